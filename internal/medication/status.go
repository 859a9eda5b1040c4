package medication

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/security"
)

// StatusChangeRequest is one lifecycle transition
type StatusChangeRequest struct {
	MedicationID string        `json:"medication_id"`
	Payload      StatusPayload `json:"payload"`
	PerformedBy  string        `json:"performed_by"`
	Note         string        `json:"note,omitempty"`
}

// StatusChangeResult is the appended record plus the medication afterwards
type StatusChangeResult struct {
	Change     StatusChange `json:"change"`
	Medication Medication   `json:"medication"`
	// Replacement is set for replace changes.
	Replacement *Medication `json:"replacement,omitempty"`
	Cancelled   int64       `json:"cancelled_events"`
}

// ChangeMedicationStatus validates the transition, applies its effect on
// schedules and events and appends the audit record, all in one
// transaction. On any error nothing is written.
func (s *Service) ChangeMedicationStatus(ctx context.Context, req StatusChangeRequest) (*StatusChangeResult, error) {
	now := s.clock()
	p := s.Policy()

	if err := validatePayload(req.Payload, now); err != nil {
		return nil, err
	}
	performedBy := strings.TrimSpace(req.PerformedBy)
	if performedBy == "" {
		return nil, apperrors.Validation("performed_by", "is required")
	}
	if err := security.ValidateNotes("note", req.Note); err != nil {
		return nil, err
	}

	var result StatusChangeResult
	err := s.store.Transaction(ctx, func(tx *Store) error {
		med, err := s.loadMedicationTx(tx, req.MedicationID)
		if err != nil {
			return err
		}
		if _, err := s.materializeAutoResumeTx(tx, med, now, p); err != nil {
			return err
		}

		next, err := NextStatus(med.EffectiveStatus(now), req.Payload.ChangeType())
		if err != nil {
			return err
		}

		payload := req.Payload
		switch v := payload.(type) {
		case HoldPayload:
			result.Cancelled, err = s.holdTx(tx, med, v, now)
		case ResumePayload:
			err = s.resumeTx(tx, med, now, p)
		case DiscontinuePayload:
			result.Cancelled, err = s.endSchedulesTx(tx, med, payload, "", now)
			med.Active = false
		case ReplacePayload:
			var replacement *Medication
			replacement, err = s.replacementTx(tx, med, v, now, p)
			if err != nil {
				return err
			}
			v.ReplacementMedicationID = replacement.ID
			v.Replacement = nil
			payload = v
			med.ReplacedByID = replacement.ID
			result.Cancelled, err = s.endSchedulesTx(tx, med, payload, replacement.ID, now)
			med.Active = false
			result.Replacement = replacement
		}
		if err != nil {
			return err
		}

		med.Status = next
		med.StatusReason = payload.GetReason()
		med.UpdatedAt = now
		if err := tx.UpdateMedication(med); err != nil {
			return err
		}

		// terminal transitions may still generate up to the schedule end
		if next.Terminal() {
			if err := s.generateUntilEndTx(tx, med, now); err != nil {
				return err
			}
		}

		change := &StatusChange{
			ID:           uuid.NewString(),
			MedicationID: med.ID,
			Payload:      payload,
			PerformedBy:  performedBy,
			Note:         strings.TrimSpace(req.Note),
			CreatedAt:    now,
		}
		if err := tx.AppendStatusChange(change); err != nil {
			return err
		}
		result.Change = *change
		result.Medication = *med
		return nil
	})
	if err != nil {
		return nil, storageErr("change medication status", err)
	}

	metrics.RecordStatusChange(string(result.Change.Type))
	s.logger.Info("Medication status changed",
		zap.String("medication_id", result.Medication.ID),
		zap.String("change", string(result.Change.Type)),
		zap.String("status", string(result.Medication.Status)),
		zap.String("performed_by", performedBy),
		zap.Int64("cancelled_events", result.Cancelled),
	)
	return &result, nil
}

// holdTx cancels every future scheduled dose and pauses the schedules.
// Resume brings the same slots back.
func (s *Service) holdTx(tx *Store, med *Medication, v HoldPayload, now time.Time) (int64, error) {
	cancelled, err := tx.CancelScheduledEvents(med.ID, now, now, "hold")
	if err != nil {
		return 0, err
	}
	scheds, err := currentSchedules(tx, med.ID)
	if err != nil {
		return 0, err
	}
	for i := range scheds {
		scheds[i].Paused = true
		scheds[i].UpdatedAt = now
		if err := tx.UpdateSchedule(&scheds[i]); err != nil {
			return 0, err
		}
	}
	med.HeldUntil = v.Until
	med.AutoResume = v.AutoResume
	return cancelled, nil
}

func (s *Service) resumeTx(tx *Store, med *Medication, now time.Time, p Policy) error {
	med.Status = StatusActive
	med.Active = true
	med.HeldUntil = nil
	med.AutoResume = false

	scheds, err := currentSchedules(tx, med.ID)
	if err != nil {
		return err
	}
	for i := range scheds {
		sched := &scheds[i]
		sched.Paused = false
		sched.UpdatedAt = now
		if err := tx.UpdateSchedule(sched); err != nil {
			return err
		}
		if _, err := s.materializeTx(tx, med, sched, now, now.AddDate(0, 0, p.RollingWindowDays), now); err != nil {
			return err
		}
	}
	return nil
}

// endSchedulesTx writes the end instant onto the live schedules and
// cancels whatever was generated past it.
func (s *Service) endSchedulesTx(tx *Store, med *Medication, payload StatusPayload, replacedBy string, now time.Time) (int64, error) {
	end, _ := scheduleEndFor(payload, now)
	cancelled, err := tx.CancelScheduledEvents(med.ID, end, now, string(payload.ChangeType()))
	if err != nil {
		return 0, err
	}

	scheds, err := currentSchedules(tx, med.ID)
	if err != nil {
		return 0, err
	}
	for i := range scheds {
		sched := &scheds[i]
		if sched.EndDate == nil || end.Before(*sched.EndDate) {
			e := end
			sched.EndDate = &e
		}
		sched.ReplacedByMedicationID = replacedBy
		if !sched.EndDate.After(now) {
			sched.Active = false
		}
		sched.UpdatedAt = now
		if err := tx.UpdateSchedule(sched); err != nil {
			return 0, err
		}
	}
	return cancelled, nil
}

// generateUntilEndTx fills a discontinue or replace overlap window
func (s *Service) generateUntilEndTx(tx *Store, med *Medication, now time.Time) error {
	scheds, err := tx.ListSchedules(med.ID)
	if err != nil {
		return err
	}
	for i := range scheds {
		sched := &scheds[i]
		if !sched.Active || sched.EndDate == nil || !sched.EndDate.After(now) {
			continue
		}
		if _, err := s.materializeTx(tx, med, sched, now, *sched.EndDate, now); err != nil {
			return err
		}
	}
	return nil
}

// replacementTx resolves or creates the medication taking over from med
func (s *Service) replacementTx(tx *Store, med *Medication, v ReplacePayload, now time.Time, p Policy) (*Medication, error) {
	var replacement *Medication
	switch {
	case v.ReplacementMedicationID != "":
		r, err := s.loadMedicationTx(tx, v.ReplacementMedicationID)
		if err != nil {
			return nil, err
		}
		if r.ID == med.ID {
			return nil, apperrors.Validation("replacement_medication_id", "a medication cannot replace itself")
		}
		if r.PatientID != med.PatientID {
			return nil, apperrors.Validation("replacement_medication_id", "replacement belongs to another patient")
		}
		if r.EffectiveStatus(now).Terminal() {
			return nil, apperrors.Conflict("replacement medication %s is %s", r.ID, r.EffectiveStatus(now))
		}
		replacement = r
	case v.Replacement != nil:
		in := *v.Replacement
		in.PatientID = med.PatientID
		settings, err := loadSettings(s.kv, med.PatientID, p)
		if err != nil {
			return nil, err
		}
		r, _, err := s.createMedicationTx(tx, in, settings.Location(p.DefaultTimezone), now, p)
		if err != nil {
			return nil, err
		}
		replacement = r
	default:
		return nil, apperrors.Validation("replacement", "a replacement medication is required")
	}

	replacement.ReplacesID = med.ID
	replacement.UpdatedAt = now
	if err := tx.UpdateMedication(replacement); err != nil {
		return nil, err
	}
	return replacement, nil
}

// materializeAutoResumeTx writes the resume record for a hold whose until
// date has passed, so the stored status catches up with the derived one.
func (s *Service) materializeAutoResumeTx(tx *Store, med *Medication, now time.Time, p Policy) (bool, error) {
	if !med.autoResumeDue(now) {
		return false, nil
	}
	until := *med.HeldUntil
	if err := s.resumeTx(tx, med, now, p); err != nil {
		return false, err
	}
	med.StatusReason = "hold ended"
	med.UpdatedAt = now
	if err := tx.UpdateMedication(med); err != nil {
		return false, err
	}
	change := &StatusChange{
		ID:           uuid.NewString(),
		MedicationID: med.ID,
		Payload:      ResumePayload{Reason: "hold ended " + until.Format(time.RFC3339), Automatic: true},
		PerformedBy:  SystemActor,
		CreatedAt:    now,
	}
	if err := tx.AppendStatusChange(change); err != nil {
		return false, err
	}

	metrics.RecordStatusChange(string(ChangeResume))
	s.logger.Info("Medication auto-resumed",
		zap.String("medication_id", med.ID),
		zap.Time("held_until", until),
	)
	return true, nil
}

// applyDueAutoResumes writes the resume for any of meds whose hold has
// ended, so reads see the revived slots without waiting for a mutation or
// the sweep. It is a no-op when nothing is due.
func (s *Service) applyDueAutoResumes(ctx context.Context, meds []Medication) error {
	now := s.clock()
	p := s.Policy()
	for i := range meds {
		if !meds[i].autoResumeDue(now) {
			continue
		}
		id := meds[i].ID
		err := s.store.Transaction(ctx, func(tx *Store) error {
			med, err := s.loadMedicationTx(tx, id)
			if err != nil {
				return err
			}
			_, err = s.materializeAutoResumeTx(tx, med, now, p)
			return err
		})
		if err != nil {
			return storageErr("auto-resume medication", err)
		}
	}
	return nil
}

// applyPatientAutoResumes runs applyDueAutoResumes over a patient's
// held medications
func (s *Service) applyPatientAutoResumes(ctx context.Context, patientID string) error {
	meds, err := s.store.WithContext(ctx).ListMedications(patientID, false)
	if err != nil {
		return storageErr("list medications", err)
	}
	return s.applyDueAutoResumes(ctx, meds)
}

// StatusHistory returns the change log oldest first
func (s *Service) StatusHistory(ctx context.Context, medicationID string) ([]StatusChange, error) {
	st := s.store.WithContext(ctx)
	med, err := st.GetMedication(medicationID)
	if err != nil {
		return nil, storageErr("load medication", err)
	}
	if med == nil {
		return nil, apperrors.NotFound("medication", medicationID)
	}
	changes, err := st.ListStatusChanges(medicationID)
	if err != nil {
		return nil, storageErr("list status changes", err)
	}
	return changes, nil
}
