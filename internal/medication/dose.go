package medication

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/security"
)

// clockSkew is how far in the future a reported taken time may be
const clockSkew = time.Minute

// EffectiveStatus is the status callers see. A scheduled event becomes
// missed once now passes its due time plus grace; nothing is written.
func EffectiveStatus(e *DoseEvent, now time.Time, grace time.Duration) DoseStatus {
	if e.Status == DoseScheduled && now.After(e.DueAt.Add(grace)) {
		return DoseMissed
	}
	return e.Status
}

// WithEffectiveStatus returns a copy carrying the derived status
func WithEffectiveStatus(e DoseEvent, now time.Time, grace time.Duration) DoseEvent {
	e.Status = EffectiveStatus(&e, now, grace)
	return e
}

func requireScheduled(e *DoseEvent, action string, at time.Time, grace time.Duration) error {
	status := EffectiveStatus(e, at, grace)
	if status != DoseScheduled {
		return apperrors.Conflict("cannot %s dose %s: status is %s", action, e.ID, status)
	}
	return nil
}

// applyTake marks the event taken. Taking an already-taken event changes
// nothing and reports changed=false. Missed is judged at the taken time, so
// a dose logged late but taken within grace is still accepted.
func applyTake(e *DoseEvent, takenAt, now time.Time, grace time.Duration) (bool, error) {
	if takenAt.IsZero() {
		takenAt = now
	}
	if takenAt.After(now.Add(clockSkew)) {
		return false, apperrors.Validation("taken_at", "cannot be in the future")
	}
	if e.Status == DoseTaken {
		return false, nil
	}
	if err := requireScheduled(e, "take", takenAt, grace); err != nil {
		return false, err
	}
	t := normalizeTime(takenAt)
	e.Status = DoseTaken
	e.TakenAt = &t
	return true, nil
}

func applySkip(e *DoseEvent, reason SkipReason, notes string, now time.Time, grace time.Duration) error {
	if reason == "" {
		return apperrors.Validation("reason", "a skip reason is required")
	}
	if !reason.Valid() {
		return apperrors.Validation("reason", "unknown skip reason "+string(reason))
	}
	if err := security.ValidateNotes("notes", notes); err != nil {
		return err
	}
	if err := requireScheduled(e, "skip", now, grace); err != nil {
		return err
	}
	e.Status = DoseSkipped
	e.SkipReason = reason
	e.SkipNotes = strings.TrimSpace(notes)
	return nil
}

// applySnooze shifts the due time and counts the snooze. Status stays
// scheduled, so take, skip and further snoozes remain possible.
func applySnooze(e *DoseEvent, minutes int, reason string, now time.Time, p Policy) error {
	if minutes <= 0 {
		return apperrors.Validation("minutes", "must be positive")
	}
	if p.MaxSnooze > 0 && time.Duration(minutes)*time.Minute > p.MaxSnooze {
		return apperrors.Validation("minutes", "exceeds the maximum snooze of "+p.MaxSnooze.String())
	}
	if err := security.ValidateShortText("reason", reason); err != nil {
		return err
	}
	if err := requireScheduled(e, "snooze", now, p.MissedGrace); err != nil {
		return err
	}
	e.DueAt = e.DueAt.Add(time.Duration(minutes) * time.Minute)
	e.SnoozeCount++
	e.SnoozeReason = strings.TrimSpace(reason)
	return nil
}

// applyReschedule marks e rescheduled and returns the scheduled follow-up
// event at newTime on the same schedule.
func applyReschedule(e *DoseEvent, newTime time.Time, reason string, oneTime bool, now time.Time, grace time.Duration) (DoseEvent, error) {
	if strings.TrimSpace(reason) == "" {
		return DoseEvent{}, apperrors.Validation("reason", "a reschedule reason is required")
	}
	if err := security.ValidateShortText("reason", reason); err != nil {
		return DoseEvent{}, err
	}
	newTime = normalizeTime(newTime)
	if !newTime.After(now) {
		return DoseEvent{}, apperrors.Validation("new_time", "must be in the future")
	}
	if err := requireScheduled(e, "reschedule", now, grace); err != nil {
		return DoseEvent{}, err
	}

	e.Status = DoseRescheduled
	e.RescheduledTo = &newTime
	e.RescheduleReason = strings.TrimSpace(reason)
	e.RescheduleOneTime = oneTime

	return DoseEvent{
		ID:                uuid.NewString(),
		ScheduleID:        e.ScheduleID,
		MedicationID:      e.MedicationID,
		PatientID:         e.PatientID,
		ScheduledAt:       newTime,
		DueAt:             newTime,
		Status:            DoseScheduled,
		RescheduledFromID: e.ID,
	}, nil
}

// replaceTimeOfDay swaps old for new in a schedule's times list
func replaceTimeOfDay(times []string, oldClock, newClock string) []string {
	out := make([]string, 0, len(times))
	for _, t := range times {
		if t != oldClock {
			out = append(out, t)
		}
	}
	return sortUnique(append(out, newClock))
}

func clockOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
