package api

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/medication"
)

// parseBody decodes a JSON body; an empty body leaves out untouched
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.Validation("body", "invalid request: "+err.Error())
	}
	return nil
}

func queryTime(c *fiber.Ctx, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.Validation(key, "must be an RFC3339 timestamp")
	}
	return t, nil
}

// queryWindow reads ?start=&end= or ?days=
func queryWindow(c *fiber.Ctx) (medication.Window, error) {
	if days := c.QueryInt("days", 0); days > 0 {
		return medication.Window{Start: time.Now().UTC().AddDate(0, 0, -days)}, nil
	}
	start, err := queryTime(c, "start")
	if err != nil {
		return medication.Window{}, err
	}
	end, err := queryTime(c, "end")
	if err != nil {
		return medication.Window{}, err
	}
	if start.IsZero() && !end.IsZero() {
		return medication.Window{}, apperrors.Validation("start", "is required with end")
	}
	return medication.Window{Start: start, End: end}, nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK
	if err := s.health.Ping(); err != nil {
		status = "unhealthy"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   Version,
		"storage":   s.health.Driver(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	want := s.config.Security.AdminPassword
	if want == "" || subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 {
		return apperrors.New(apperrors.CodeUnauthorized, "invalid credentials")
	}

	sub := req.Username
	if sub == "" {
		sub = "admin"
	}
	now := time.Now()
	ttl := time.Duration(s.config.Security.TokenTTLHours) * time.Hour
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{"token": tokenString, "expires_at": now.Add(ttl).UTC()})
}

func (s *Server) handleNormalizeFrequency(c *fiber.Ctx) error {
	var req normalizeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return c.JSON(s.service.NormalizeFrequency(req.Text))
}

// Medications

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req medication.NewMedication
	if err := parseBody(c, &req); err != nil {
		return err
	}
	med, err := s.service.CreateMedication(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(med)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.service.GetMedication(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	scheds, err := s.service.Schedules(c.UserContext(), med.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"medication": med, "schedules": scheds})
}

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	meds, err := s.service.ListMedications(c.UserContext(), c.Params("id"), c.QueryBool("all", false))
	if err != nil {
		return err
	}
	return c.JSON(meds)
}

func (s *Server) handleGenerateSchedule(c *fiber.Ctx) error {
	var req generateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	events, err := s.service.GenerateSchedule(c.UserContext(), medication.GenerateRequest{
		MedicationID: c.Params("id"),
		Code:         req.Code,
		Times:        req.Times,
		StartDate:    req.StartDate,
		Days:         req.Days,
	})
	if err != nil {
		return err
	}
	return c.JSON(events)
}

func (s *Server) handleSetReminders(c *fiber.Ctx) error {
	var req remindersRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	med, err := s.service.SetReminders(c.UserContext(), c.Params("id"), req.Enabled)
	if err != nil {
		return err
	}
	return c.JSON(med)
}

func (s *Server) handleListEvents(c *fiber.Ctx) error {
	from, err := queryTime(c, "from")
	if err != nil {
		return err
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return err
	}
	f := medication.EventFilter{MedicationID: c.Params("id"), From: from, To: to}
	if status := c.Query("status"); status != "" {
		f.Statuses = []medication.DoseStatus{medication.DoseStatus(status)}
	}
	events, err := s.service.DoseEvents(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(events)
}

func (s *Server) handleChangeStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if len(req.Payload) == 0 {
		req.Payload = []byte("{}")
	}
	payload, err := medication.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return apperrors.Validation("payload", err.Error())
	}

	result, err := s.service.ChangeMedicationStatus(c.UserContext(), medication.StatusChangeRequest{
		MedicationID: c.Params("id"),
		Payload:      payload,
		PerformedBy:  actor(c),
		Note:         req.Note,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *Server) handleStatusHistory(c *fiber.Ctx) error {
	changes, err := s.service.StatusHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(changes)
}

func (s *Server) handleMedicationAdherence(c *fiber.Ctx) error {
	w, err := queryWindow(c)
	if err != nil {
		return err
	}
	rec, err := s.service.ComputeMedicationAdherence(c.UserContext(), c.Params("id"), w)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleRecordPRN(c *fiber.Ctx) error {
	var req prnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	in := medication.PRNDoseRequest{
		MedicationID: c.Params("id"),
		Quantity:     req.Quantity,
		Notes:        req.Notes,
	}
	if req.TakenAt != nil {
		in.TakenAt = *req.TakenAt
	}
	summary, err := s.service.RecordPRNDose(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(summary)
}

func (s *Server) handleListPRN(c *fiber.Ctx) error {
	since, err := queryTime(c, "since")
	if err != nil {
		return err
	}
	intakes, err := s.service.ListPRNIntakes(c.UserContext(), c.Params("id"), since)
	if err != nil {
		return err
	}
	return c.JSON(intakes)
}

// Doses

func (s *Server) handleClassifyDose(c *fiber.Ctx) error {
	e, err := s.service.GetDoseEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	assignment, err := s.service.ClassifyDose(c.UserContext(), e.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"event": e, "classification": assignment})
}

func (s *Server) handleTakeDose(c *fiber.Ctx) error {
	var req takeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	var takenAt time.Time
	if req.TakenAt != nil {
		takenAt = *req.TakenAt
	}
	e, changed, err := s.service.TakeDose(c.UserContext(), c.Params("id"), takenAt)
	if err != nil {
		return err
	}
	return c.JSON(takeResponse{Event: e, Changed: changed})
}

func (s *Server) handleSkipDose(c *fiber.Ctx) error {
	var req skipRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	e, err := s.service.SkipDose(c.UserContext(), c.Params("id"), req.Reason, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(e)
}

func (s *Server) handleSnoozeDose(c *fiber.Ctx) error {
	var req snoozeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	e, err := s.service.SnoozeDose(c.UserContext(), c.Params("id"), req.Minutes, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(e)
}

func (s *Server) handleRescheduleDose(c *fiber.Ctx) error {
	var req rescheduleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := s.service.RescheduleDose(c.UserContext(), medication.RescheduleRequest{
		EventID: c.Params("id"),
		NewTime: req.NewTime,
		Reason:  req.Reason,
		OneTime: req.OneTime,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Patients

func (s *Server) handleToday(c *fiber.Ctx) error {
	view, err := s.service.TodayView(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) handlePatientAdherence(c *fiber.Ctx) error {
	w, err := queryWindow(c)
	if err != nil {
		return err
	}
	rec, err := s.service.ComputePatientAdherence(c.UserContext(), c.Params("id"), w)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleRepair(c *fiber.Ctx) error {
	report, err := s.service.DiagnoseAndRepairSchedules(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) handleGetBuckets(c *fiber.Ctx) error {
	ps, err := s.service.GetPatientSettings(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ps)
}

func (s *Server) handlePutBuckets(c *fiber.Ctx) error {
	var req medication.PatientSettings
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ps, err := s.service.UpdatePatientSettings(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(ps)
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	var req importRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	report, err := s.service.ImportRecords(c.UserContext(), c.Params("id"), req.Records)
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) handleSweep(c *fiber.Ctx) error {
	if s.sweeper == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "background sweep is disabled")
	}
	result, err := s.sweeper.RunOnce(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(result)
}
