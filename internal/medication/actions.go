package medication

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
)

func (s *Service) loadEventTx(tx *Store, id string) (*DoseEvent, error) {
	e, err := tx.GetDoseEvent(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.NotFound("dose event", id)
	}
	return e, nil
}

// TakeDose records a dose as taken. A zero takenAt means now. Taking a dose
// that is already taken returns it unchanged with changed=false.
func (s *Service) TakeDose(ctx context.Context, eventID string, takenAt time.Time) (*DoseEvent, bool, error) {
	now := s.clock()
	p := s.Policy()

	var (
		out     *DoseEvent
		changed bool
	)
	err := s.store.Transaction(ctx, func(tx *Store) error {
		e, err := s.loadEventTx(tx, eventID)
		if err != nil {
			return err
		}
		if changed, err = applyTake(e, takenAt, now, p.MissedGrace); err != nil {
			return err
		}
		if changed {
			if err := tx.UpdateDoseEvent(e); err != nil {
				return err
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, false, storageErr("take dose", err)
	}

	if changed {
		metrics.RecordDoseAction("take")
		s.logger.Info("Dose taken",
			zap.String("event_id", out.ID),
			zap.String("medication_id", out.MedicationID),
			zap.Timep("taken_at", out.TakenAt),
		)
	}
	result := WithEffectiveStatus(*out, now, p.MissedGrace)
	return &result, changed, nil
}

// SkipDose records a deliberate skip with one of the closed skip reasons
func (s *Service) SkipDose(ctx context.Context, eventID string, reason SkipReason, notes string) (*DoseEvent, error) {
	now := s.clock()
	p := s.Policy()

	var out *DoseEvent
	err := s.store.Transaction(ctx, func(tx *Store) error {
		e, err := s.loadEventTx(tx, eventID)
		if err != nil {
			return err
		}
		if err := applySkip(e, reason, notes, now, p.MissedGrace); err != nil {
			return err
		}
		out = e
		return tx.UpdateDoseEvent(e)
	})
	if err != nil {
		return nil, storageErr("skip dose", err)
	}

	metrics.RecordDoseAction("skip")
	s.logger.Info("Dose skipped",
		zap.String("event_id", out.ID),
		zap.String("reason", string(reason)),
	)
	return out, nil
}

// SnoozeDose pushes the due time back. The slot time and bucket stay put.
func (s *Service) SnoozeDose(ctx context.Context, eventID string, minutes int, reason string) (*DoseEvent, error) {
	now := s.clock()
	p := s.Policy()

	var out *DoseEvent
	err := s.store.Transaction(ctx, func(tx *Store) error {
		e, err := s.loadEventTx(tx, eventID)
		if err != nil {
			return err
		}
		if err := applySnooze(e, minutes, reason, now, p); err != nil {
			return err
		}
		out = e
		return tx.UpdateDoseEvent(e)
	})
	if err != nil {
		return nil, storageErr("snooze dose", err)
	}

	metrics.RecordDoseAction("snooze")
	s.logger.Info("Dose snoozed",
		zap.String("event_id", out.ID),
		zap.Int("minutes", minutes),
		zap.Int("snooze_count", out.SnoozeCount),
	)
	return out, nil
}

// RescheduleRequest moves one dose. With OneTime unset the schedule's time
// of day moves too and future doses follow it.
type RescheduleRequest struct {
	EventID string    `json:"event_id"`
	NewTime time.Time `json:"new_time"`
	Reason  string    `json:"reason"`
	OneTime bool      `json:"one_time"`
}

type RescheduleResult struct {
	Original DoseEvent `json:"original"`
	FollowUp DoseEvent `json:"follow_up"`
	// Schedule is set when the change was recurring.
	Schedule *Schedule `json:"schedule,omitempty"`
}

func (s *Service) RescheduleDose(ctx context.Context, req RescheduleRequest) (*RescheduleResult, error) {
	now := s.clock()
	p := s.Policy()

	var result RescheduleResult
	err := s.store.Transaction(ctx, func(tx *Store) error {
		e, err := s.loadEventTx(tx, req.EventID)
		if err != nil {
			return err
		}
		fromScheduled := e.ScheduledAt

		followUp, err := applyReschedule(e, req.NewTime, req.Reason, req.OneTime, now, p.MissedGrace)
		if err != nil {
			return err
		}

		taken, err := tx.ListDoseEvents(EventFilter{
			ScheduleID: e.ScheduleID,
			From:       followUp.ScheduledAt,
			To:         followUp.ScheduledAt.Add(time.Second),
		})
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return apperrors.Conflict("schedule already has a dose at %s", followUp.ScheduledAt.Format(time.RFC3339))
		}

		if err := tx.UpdateDoseEvent(e); err != nil {
			return err
		}
		if err := tx.CreateDoseEvent(&followUp); err != nil {
			return err
		}
		result.Original = *e
		result.FollowUp = followUp

		if req.OneTime {
			return nil
		}
		sched, err := s.moveScheduleTimeTx(tx, e, fromScheduled, followUp.ScheduledAt, now, p)
		if err != nil {
			return err
		}
		result.Schedule = sched
		return nil
	})
	if err != nil {
		return nil, storageErr("reschedule dose", err)
	}

	metrics.RecordDoseAction("reschedule")
	s.logger.Info("Dose rescheduled",
		zap.String("event_id", result.Original.ID),
		zap.String("follow_up_id", result.FollowUp.ID),
		zap.Time("new_time", result.FollowUp.ScheduledAt),
		zap.Bool("one_time", req.OneTime),
	)
	return &result, nil
}

// moveScheduleTimeTx replaces the old time of day with the new one, cancels
// the future doses at the old time and generates the rolling window again.
func (s *Service) moveScheduleTimeTx(tx *Store, e *DoseEvent, oldSlot, newSlot, now time.Time, p Policy) (*Schedule, error) {
	med, err := s.loadMedicationTx(tx, e.MedicationID)
	if err != nil {
		return nil, err
	}
	if status := med.EffectiveStatus(now); status != StatusActive {
		return nil, apperrors.Conflict("medication %s is %s; only a one-time reschedule is possible", med.ID, status)
	}
	sched, err := tx.GetSchedule(e.ScheduleID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, apperrors.NotFound("schedule", e.ScheduleID)
	}

	loc := sched.Location()
	oldClock, newClock := clockOf(oldSlot, loc), clockOf(newSlot, loc)
	sched.Times = replaceTimeOfDay(sched.Times, oldClock, newClock)
	sched.UpdatedAt = now
	if err := tx.UpdateSchedule(sched); err != nil {
		return nil, err
	}

	future, err := tx.ListDoseEvents(EventFilter{
		ScheduleID: sched.ID,
		From:       oldSlot.Add(time.Second),
		Statuses:   []DoseStatus{DoseScheduled},
	})
	if err != nil {
		return nil, err
	}
	for i := range future {
		f := &future[i]
		if clockOf(f.ScheduledAt, loc) != oldClock || !f.DueAt.After(now) || f.RescheduledFromID != "" {
			continue
		}
		cancelled := now
		f.Status = DoseCancelled
		f.CancelledAt = &cancelled
		f.CancelReason = "rescheduled"
		if err := tx.UpdateDoseEvent(f); err != nil {
			return nil, err
		}
	}

	if _, err := s.materializeTx(tx, med, sched, now, now.AddDate(0, 0, p.RollingWindowDays), now); err != nil {
		return nil, err
	}
	return sched, nil
}
