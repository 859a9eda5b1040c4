package api

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/security"
)

const localActor = "performed_by"

func (s *Server) parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Security.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", apperrors.New(apperrors.CodeUnauthorized, "invalid token", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "token has no subject")
	}
	return sub, nil
}

// authMiddleware checks the bearer token and records its subject as the
// actor for status changes
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" {
			return apperrors.New(apperrors.CodeUnauthorized, "missing authorization header")
		}

		sub, err := s.parseToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return err
		}

		c.Locals(localActor, sub)
		return c.Next()
	}
}

// websocketAuth accepts the token as a query parameter since browsers
// cannot set headers on the upgrade request
func (s *Server) websocketAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		}
		sub, err := s.parseToken(token)
		if err != nil {
			return err
		}
		c.Locals(localActor, sub)
		return c.Next()
	}
}

func (s *Server) rateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.limiter.allow(c.IP(), time.Now()) {
			metrics.RecordRequestLimited()
			return apperrors.ErrRateLimited
		}
		return c.Next()
	}
}

func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status, _ = errorResponse(err)
		}
		metrics.RecordRequest(status, time.Since(start))
		return err
	}
}

func actor(c *fiber.Ctx) string {
	if sub, ok := c.Locals(localActor).(string); ok {
		return sub
	}
	return ""
}

// errorResponse maps an error to its HTTP status and JSON body
func errorResponse(err error) (int, fiber.Map) {
	var fe *fiber.Error
	if stderrors.As(err, &fe) {
		return fe.Code, fiber.Map{"error": fe.Message, "code": "HTTP", "retryable": false}
	}

	var appErr *apperrors.AppError
	if !stderrors.As(err, &appErr) {
		return fiber.StatusInternalServerError, fiber.Map{"error": "internal error", "code": "UNKNOWN", "retryable": false}
	}

	status := fiber.StatusInternalServerError
	switch appErr.Code {
	case apperrors.CodeValidation:
		status = fiber.StatusUnprocessableEntity
	case apperrors.CodeStateConflict:
		status = fiber.StatusConflict
	case apperrors.CodeNotFound:
		status = fiber.StatusNotFound
	case apperrors.CodeUnauthorized:
		status = fiber.StatusUnauthorized
	case apperrors.CodeRateLimited:
		status = fiber.StatusTooManyRequests
	}

	body := fiber.Map{"code": appErr.Code, "retryable": appErr.Retryable}
	if status == fiber.StatusInternalServerError {
		body["error"] = security.Redact(appErr.Message)
	} else {
		msg := appErr.Message
		if appErr.Field != "" {
			msg = appErr.Field + ": " + msg
			body["field"] = appErr.Field
		}
		body["error"] = msg
	}
	return status, body
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("error", security.Redact(err.Error())),
		)
	}
	return c.Status(status).JSON(body)
}
