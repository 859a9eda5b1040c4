package medication

import (
	"math"
	"sort"
	"time"
)

// RiskLevel classifies an adherence rate
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	// RiskNone is reported when nothing in the window was due yet.
	RiskNone RiskLevel = "none"
)

// Window is a half-open [Start, End) range of scheduled times
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastNDays covers today and the n-1 days before it in loc
func LastNDays(now time.Time, n int, loc *time.Location) Window {
	if n <= 0 {
		n = 1
	}
	today := StartOfDay(now, loc)
	return Window{Start: today.AddDate(0, 0, -(n - 1)).UTC(), End: today.AddDate(0, 0, 1).UTC()}
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// AdherenceRecord is derived from dose events and never stored
type AdherenceRecord struct {
	MedicationID        string    `json:"medication_id,omitempty"`
	MedicationName      string    `json:"medication_name,omitempty"`
	PatientID           string    `json:"patient_id,omitempty"`
	Window              Window    `json:"window"`
	Scheduled           int       `json:"scheduled"`
	Taken               int       `json:"taken"`
	Missed              int       `json:"missed"`
	Skipped             int       `json:"skipped"`
	Pending             int       `json:"pending"`
	OnTime              int       `json:"on_time"`
	Late                int       `json:"late"`
	AdherenceRate       float64   `json:"adherence_rate"`
	OnTimeRate          float64   `json:"on_time_rate"`
	AverageDelayMinutes float64   `json:"average_delay_minutes"`
	LongestDelayMinutes float64   `json:"longest_delay_minutes"`
	CurrentStreak       int       `json:"current_streak"`
	Risk                RiskLevel `json:"risk"`
}

// ClassifyRisk uses exact integer comparison so 90% is low, not medium
func ClassifyRisk(taken, scheduled int) RiskLevel {
	switch {
	case scheduled == 0:
		return RiskNone
	case taken*100 >= 90*scheduled:
		return RiskLow
	case taken*100 >= 80*scheduled:
		return RiskMedium
	case taken*100 >= 70*scheduled:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)*10000/float64(den)) / 100
}

// ComputeAdherence counts events scheduled inside w that are already due.
// Only taken, missed and skipped outcomes enter the denominator; pending
// doses still inside grace, rescheduled originals and cancelled slots do
// not. events may reach further back than w; the streak uses all of them.
func ComputeAdherence(events []DoseEvent, w Window, now time.Time, p Policy, loc *time.Location) AdherenceRecord {
	rec := AdherenceRecord{Window: w}
	var totalDelay, longest float64

	for i := range events {
		e := &events[i]
		if !w.contains(e.ScheduledAt) || e.ScheduledAt.After(now) {
			continue
		}
		switch EffectiveStatus(e, now, p.MissedGrace) {
		case DoseTaken:
			rec.Taken++
			if e.TakenAt == nil {
				continue
			}
			delay := e.TakenAt.Sub(e.ScheduledAt)
			switch {
			case delay.Abs() <= p.OnTimeTolerance:
				rec.OnTime++
			case delay > 0:
				rec.Late++
				mins := delay.Minutes()
				totalDelay += mins
				if mins > longest {
					longest = mins
				}
			}
		case DoseMissed:
			rec.Missed++
		case DoseSkipped:
			rec.Skipped++
		case DoseScheduled:
			rec.Pending++
		}
	}

	rec.Scheduled = rec.Taken + rec.Missed + rec.Skipped
	rec.AdherenceRate = percent(rec.Taken, rec.Scheduled)
	rec.OnTimeRate = percent(rec.OnTime, rec.Taken)
	if rec.Late > 0 {
		rec.AverageDelayMinutes = math.Round(totalDelay/float64(rec.Late)*10) / 10
		rec.LongestDelayMinutes = math.Round(longest*10) / 10
	}
	rec.Risk = ClassifyRisk(rec.Taken, rec.Scheduled)
	rec.CurrentStreak = CurrentStreak(events, now, p.MissedGrace, loc)
	return rec
}

type dayTally struct {
	taken, failed, pending int
}

// CurrentStreak counts consecutive fully adherent local days, walking back
// from yesterday. Days with no due doses and days still pending are passed
// over; the first day with a missed or skipped dose ends the streak.
func CurrentStreak(events []DoseEvent, now time.Time, grace time.Duration, loc *time.Location) int {
	today := StartOfDay(now, loc)
	days := make(map[string]*dayTally)

	for i := range events {
		e := &events[i]
		if !e.ScheduledAt.Before(today) {
			continue
		}
		day := e.ScheduledAt.In(loc).Format("2006-01-02")
		t := days[day]
		if t == nil {
			t = &dayTally{}
			days[day] = t
		}
		switch EffectiveStatus(e, now, grace) {
		case DoseTaken:
			t.taken++
		case DoseMissed, DoseSkipped:
			t.failed++
		case DoseScheduled:
			t.pending++
		}
	}

	ordered := make([]string, 0, len(days))
	for d := range days {
		ordered = append(ordered, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ordered)))

	streak := 0
	for _, d := range ordered {
		t := days[d]
		if t.failed > 0 {
			break
		}
		if t.taken > 0 && t.pending == 0 {
			streak++
		}
	}
	return streak
}

// PatientAdherence is the overall figure plus one record per medication
type PatientAdherence struct {
	PatientID   string            `json:"patient_id"`
	Overall     AdherenceRecord   `json:"overall"`
	Medications []AdherenceRecord `json:"medications"`
}
