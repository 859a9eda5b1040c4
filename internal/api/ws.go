package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/metrics"
)

type feedMessage struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleTodayFeed pushes the patient's day view on connect, whenever the
// client sends anything, and on every feed interval
func (s *Server) handleTodayFeed(conn *websocket.Conn) {
	defer conn.Close()

	patientID := strings.Clone(conn.Params("id"))
	metrics.Default().IncrementActiveConnections()
	defer metrics.Default().DecrementActiveConnections()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	push := func() error {
		view, err := s.service.TodayView(ctx, patientID)
		if err != nil {
			_, body := errorResponse(err)
			msg, _ := body["error"].(string)
			return conn.WriteJSON(feedMessage{Type: "error", Error: msg})
		}
		return conn.WriteJSON(feedMessage{Type: "today", Data: view})
	}

	requests := make(chan struct{}, 1)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("WebSocket read error", zap.Error(err))
				}
				return
			}
			select {
			case requests <- struct{}{}:
			default:
			}
		}
	}()

	ticker := time.NewTicker(s.feedInterval)
	defer ticker.Stop()

	if err := push(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
		case <-ticker.C:
		}
		if err := push(); err != nil {
			s.logger.Debug("WebSocket write failed", zap.String("patient_id", patientID), zap.Error(err))
			return
		}
	}
}
