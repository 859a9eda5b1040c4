package medication

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
)

// IssueKind names one detectable generation gap
type IssueKind string

const (
	IssueMissingSchedule    IssueKind = "missing_schedule"
	IssueInvalidTimes       IssueKind = "invalid_times"
	IssueMissingEvents      IssueKind = "missing_events"
	IssueExpiredHold        IssueKind = "expired_hold"
	IssuePausedWhileActive  IssueKind = "paused_while_active"
	IssueGenerationDisabled IssueKind = "generation_disabled"
)

type Issue struct {
	Kind         IssueKind `json:"kind"`
	MedicationID string    `json:"medication_id"`
	ScheduleID   string    `json:"schedule_id,omitempty"`
	Detail       string    `json:"detail"`
	Fixed        bool      `json:"fixed"`
}

// RepairReport is the outcome of one diagnose-and-repair pass
type RepairReport struct {
	PatientID    string    `json:"patient_id"`
	IssuesFound  int       `json:"issues_found"`
	FixesApplied int       `json:"fixes_applied"`
	Issues       []Issue   `json:"issues"`
	CheckedAt    time.Time `json:"checked_at"`
}

// DiagnoseAndRepairSchedules finds medications with reminders on whose
// schedules or rolling window of events are incomplete, and fixes them.
// Every fix is idempotent, so a second run right after the first finds
// nothing. Each medication is repaired in its own transaction; cancelling
// ctx stops between medications and keeps what was already fixed.
func (s *Service) DiagnoseAndRepairSchedules(ctx context.Context, patientID string) (*RepairReport, error) {
	if patientID == "" {
		return nil, apperrors.Validation("patient_id", "is required")
	}
	now := s.clock()
	p := s.Policy()

	meds, err := s.store.WithContext(ctx).ListMedications(patientID, false)
	if err != nil {
		return nil, storageErr("list medications", err)
	}

	report := &RepairReport{PatientID: patientID, Issues: []Issue{}, CheckedAt: now}
	for _, m := range meds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if m.PRN || !m.RemindersEnabled {
			continue
		}

		var issues []Issue
		err := s.store.Transaction(ctx, func(tx *Store) error {
			med, err := s.loadMedicationTx(tx, m.ID)
			if err != nil {
				return err
			}
			issues, err = s.repairMedicationTx(tx, med, now, p)
			return err
		})
		if err != nil {
			s.logger.Error("Schedule repair failed",
				zap.String("patient_id", patientID),
				zap.String("medication_id", m.ID),
				zap.Error(err),
			)
			return report, storageErr("repair schedules", err)
		}

		for _, issue := range issues {
			s.logger.Info("Schedule issue",
				zap.String("medication_id", issue.MedicationID),
				zap.String("issue", string(issue.Kind)),
				zap.String("detail", issue.Detail),
				zap.Bool("fixed", issue.Fixed),
			)
			report.IssuesFound++
			if issue.Fixed {
				report.FixesApplied++
			}
		}
		report.Issues = append(report.Issues, issues...)
	}

	kinds := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		kinds = append(kinds, string(issue.Kind))
	}
	metrics.RecordRepair(kinds, report.FixesApplied)
	return report, nil
}

func (s *Service) repairMedicationTx(tx *Store, med *Medication, now time.Time, p Policy) ([]Issue, error) {
	var issues []Issue
	add := func(kind IssueKind, scheduleID, detail string) {
		issues = append(issues, Issue{Kind: kind, MedicationID: med.ID, ScheduleID: scheduleID, Detail: detail, Fixed: true})
	}

	if med.autoResumeDue(now) {
		until := *med.HeldUntil
		if _, err := s.materializeAutoResumeTx(tx, med, now, p); err != nil {
			return nil, err
		}
		add(IssueExpiredHold, "", "hold ended "+until.Format(time.RFC3339))
	}
	if med.EffectiveStatus(now) != StatusActive {
		return issues, nil
	}

	scheds, err := currentSchedules(tx, med.ID)
	if err != nil {
		return nil, err
	}
	if len(scheds) == 0 {
		sched, err := s.prepareScheduleTx(tx, med, "", nil, time.Time{}, now, p)
		if err != nil {
			return nil, err
		}
		add(IssueMissingSchedule, sched.ID, fmt.Sprintf("created %s schedule at %v", sched.FrequencyCode, sched.Times))
		scheds = []Schedule{*sched}
	}

	for i := range scheds {
		sched := &scheds[i]
		dirty := false

		if _, err := NormalizeTimes(sched.Times); err != nil {
			code := sched.FrequencyCode
			if !code.Valid() || code == FrequencyAsNeeded {
				code = s.normalizer.Normalize(med.Frequency).Code
				sched.FrequencyCode = code
			}
			add(IssueInvalidTimes, sched.ID, fmt.Sprintf("times %v replaced with defaults", sched.Times))
			sched.Times = DefaultTimes(code)
			dirty = true
		}
		if sched.Paused {
			add(IssuePausedWhileActive, sched.ID, "schedule paused on an active medication")
			sched.Paused = false
			dirty = true
		}
		if !sched.GenerateEvents {
			add(IssueGenerationDisabled, sched.ID, "event generation was off with reminders on")
			sched.GenerateEvents = true
			dirty = true
		}
		if dirty {
			sched.UpdatedAt = now
			if err := tx.UpdateSchedule(sched); err != nil {
				return nil, err
			}
		}

		n, err := s.materializeTx(tx, med, sched, now, now.AddDate(0, 0, p.RollingWindowDays), now)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			add(IssueMissingEvents, sched.ID, fmt.Sprintf("generated %d events", n))
		}
	}
	return issues, nil
}
