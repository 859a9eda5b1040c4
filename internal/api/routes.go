package api

import (
	"strings"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/gmsas95/medtrack/internal/metrics"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := s.app.Group("/api")
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware())
	}

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Post("/frequency/normalize", s.handleNormalizeFrequency)

	protected.Post("/medications", s.handleCreateMedication)
	protected.Get("/medications/:id", s.handleGetMedication)
	protected.Post("/medications/:id/schedule", s.handleGenerateSchedule)
	protected.Post("/medications/:id/reminders", s.handleSetReminders)
	protected.Get("/medications/:id/events", s.handleListEvents)
	protected.Post("/medications/:id/status", s.handleChangeStatus)
	protected.Get("/medications/:id/status", s.handleStatusHistory)
	protected.Get("/medications/:id/adherence", s.handleMedicationAdherence)
	protected.Post("/medications/:id/prn", s.handleRecordPRN)
	protected.Get("/medications/:id/prn", s.handleListPRN)

	protected.Get("/doses/:id", s.handleClassifyDose)
	protected.Post("/doses/:id/take", s.handleTakeDose)
	protected.Post("/doses/:id/skip", s.handleSkipDose)
	protected.Post("/doses/:id/snooze", s.handleSnoozeDose)
	protected.Post("/doses/:id/reschedule", s.handleRescheduleDose)

	protected.Get("/patients/:id/medications", s.handleListMedications)
	protected.Get("/patients/:id/today", s.handleToday)
	protected.Get("/patients/:id/adherence", s.handlePatientAdherence)
	protected.Post("/patients/:id/repair", s.handleRepair)
	protected.Get("/patients/:id/buckets", s.handleGetBuckets)
	protected.Put("/patients/:id/buckets", s.handlePutBuckets)
	protected.Post("/patients/:id/import", s.handleImport)

	protected.Post("/sweep", s.handleSweep)

	s.app.Use("/ws", s.websocketAuth())
	s.app.Get("/ws/patients/:id/today", websocket.New(s.handleTodayFeed))
}
