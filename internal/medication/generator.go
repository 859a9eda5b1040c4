package medication

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartOfDay returns local midnight of t in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// firesOn reports whether the schedule has doses on the local date day
func firesOn(code FrequencyCode, anchor, day time.Time) bool {
	switch {
	case code.DailyFamily():
		return true
	case code == FrequencyWeekly:
		return day.Weekday() == anchor.Weekday()
	case code == FrequencyMonthly:
		want := anchor.Day()
		if last := daysIn(day.Year(), day.Month(), day.Location()); want > last {
			want = last
		}
		return day.Day() == want
	}
	return false
}

// Slots expands the schedule into UTC slot instants within [from, to),
// also bounded by the schedule's start date and exclusive end date. Weekly
// schedules fire on the start date's weekday and monthly ones on its day of
// month, clamped to short months.
func Slots(s *Schedule, from, to time.Time) ([]time.Time, error) {
	if s.FrequencyCode == FrequencyAsNeeded {
		return nil, nil
	}
	if !s.FrequencyCode.Valid() {
		return nil, fmt.Errorf("schedule %s has unknown frequency %q", s.ID, s.FrequencyCode)
	}

	clocks := make([]int, 0, len(s.Times))
	for _, t := range s.Times {
		mins, err := ParseClock(t)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		clocks = append(clocks, mins)
	}

	loc := s.Location()
	anchor := s.StartDate.In(loc)
	if from.Before(s.StartDate) {
		from = s.StartDate
	}
	if s.EndDate != nil && s.EndDate.Before(to) {
		to = *s.EndDate
	}
	if !from.Before(to) {
		return nil, nil
	}

	var slots []time.Time
	// Start a day early so a late-evening slot is not lost to a zone offset.
	for day := StartOfDay(from, loc).AddDate(0, 0, -1); day.Before(to); day = day.AddDate(0, 0, 1) {
		if !firesOn(s.FrequencyCode, anchor, day) {
			continue
		}
		for _, mins := range clocks {
			slot := time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, loc)
			if slot.Before(from) || !slot.Before(to) {
				continue
			}
			slots = append(slots, slot.UTC())
		}
	}
	return slots, nil
}

func newDoseEvent(s *Schedule, med *Medication, slot time.Time) DoseEvent {
	return DoseEvent{
		ID:           uuid.NewString(),
		ScheduleID:   s.ID,
		MedicationID: med.ID,
		PatientID:    med.PatientID,
		ScheduledAt:  slot,
		DueAt:        slot,
		Status:       DoseScheduled,
	}
}

// generationPlan is what materializing a range needs to write
type generationPlan struct {
	create []DoseEvent
	revive []DoseEvent
}

// planGeneration compares wanted slots with existing events. A slot that
// already has an event is left alone, except a cancelled slot that is
// still in the future, which is revived in place.
func planGeneration(s *Schedule, med *Medication, slots []time.Time, existing []DoseEvent, now time.Time) generationPlan {
	bySlot := make(map[int64]*DoseEvent, len(existing))
	for i := range existing {
		bySlot[existing[i].ScheduledAt.Unix()] = &existing[i]
	}

	var plan generationPlan
	for _, slot := range slots {
		e, ok := bySlot[slot.Unix()]
		if !ok {
			plan.create = append(plan.create, newDoseEvent(s, med, slot))
			continue
		}
		if e.Status == DoseCancelled && slot.After(now) {
			revived := *e
			revived.Status = DoseScheduled
			revived.DueAt = revived.ScheduledAt
			revived.CancelledAt = nil
			revived.CancelReason = ""
			revived.SnoozeCount = 0
			revived.SnoozeReason = ""
			plan.revive = append(plan.revive, revived)
		}
	}
	return plan
}

// canGenerate decides whether a medication may have new events. Held and
// PRN medications never do; discontinued and replaced ones only up to the
// end date already written on their schedules.
func canGenerate(med *Medication, s *Schedule, now time.Time) bool {
	if med.PRN || !s.Active || s.Paused || !s.GenerateEvents {
		return false
	}
	switch med.EffectiveStatus(now) {
	case StatusActive:
		return true
	case StatusDiscontinued, StatusReplaced:
		return s.EndDate != nil
	default:
		return false
	}
}
