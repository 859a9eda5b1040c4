package medication

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/security"
)

// prnWindow is the rolling period the max-daily-dose guard counts over
const prnWindow = 24 * time.Hour

// PRNDoseRequest logs one as-needed intake. Quantity defaults to 1.
type PRNDoseRequest struct {
	MedicationID string    `json:"medication_id"`
	TakenAt      time.Time `json:"taken_at"`
	Quantity     int       `json:"quantity"`
	Notes        string    `json:"notes,omitempty"`
}

// PRNSummary describes the guard after an intake
type PRNSummary struct {
	Intake         PRNIntake  `json:"intake"`
	TakenInWindow  int        `json:"taken_in_window"`
	MaxDailyDoses  int        `json:"max_daily_doses"`
	Remaining      int        `json:"remaining"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// inWindow reports whether t falls in the rolling window ending at end
func inWindow(t, end time.Time) bool {
	return t.After(end.Add(-prnWindow)) && !t.After(end)
}

// windowLoad returns the most doses any rolling 24 hours containing at
// would hold once quantity is added at at. Only windows ending at at or at
// a later intake inside the next 24 hours need checking, since the count
// changes only at intake instants.
func windowLoad(intakes []PRNIntake, at time.Time, quantity int) int {
	ends := []time.Time{at}
	for _, in := range intakes {
		if in.TakenAt.After(at) && in.TakenAt.Before(at.Add(prnWindow)) {
			ends = append(ends, in.TakenAt)
		}
	}

	peak := 0
	for _, end := range ends {
		n := quantity
		for _, in := range intakes {
			if inWindow(in.TakenAt, end) {
				n += in.Quantity
			}
		}
		if n > peak {
			peak = n
		}
	}
	return peak
}

// nextEligible returns the earliest instant from at on where quantity more
// doses fit under limit, or nil when they already fit or never can.
func nextEligible(intakes []PRNIntake, at time.Time, quantity, limit int) *time.Time {
	if limit <= 0 || windowLoad(intakes, at, quantity) <= limit {
		return nil
	}

	// the load only drops when an intake ages out
	var candidates []time.Time
	for _, in := range intakes {
		if t := in.TakenAt.Add(prnWindow); t.After(at) {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

	for _, t := range candidates {
		if windowLoad(intakes, t, quantity) <= limit {
			return &t
		}
	}
	return nil
}

// prnGuard counts doses taken in the 24 hours before at and, when one more
// would break the limit, when the next dose becomes allowed.
func prnGuard(intakes []PRNIntake, at time.Time, limit int) (taken int, next *time.Time) {
	for _, in := range intakes {
		if inWindow(in.TakenAt, at) {
			taken += in.Quantity
		}
	}
	return taken, nextEligible(intakes, at, 1, limit)
}

// RecordPRNDose logs an as-needed intake. With MaxDailyDoses set, an intake
// that would exceed it within any rolling 24 hours is rejected.
func (s *Service) RecordPRNDose(ctx context.Context, req PRNDoseRequest) (*PRNSummary, error) {
	now := s.clock()
	takenAt := req.TakenAt
	if takenAt.IsZero() {
		takenAt = now
	}
	takenAt = normalizeTime(takenAt)
	if takenAt.After(now.Add(clockSkew)) {
		return nil, apperrors.Validation("taken_at", "cannot be in the future")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return nil, apperrors.Validation("quantity", "must be positive")
	}
	if err := security.ValidateNotes("notes", req.Notes); err != nil {
		return nil, err
	}

	var summary PRNSummary
	blocked := false
	err := s.store.Transaction(ctx, func(tx *Store) error {
		med, err := s.loadMedicationTx(tx, req.MedicationID)
		if err != nil {
			return err
		}
		if !med.PRN {
			return apperrors.Validation("medication_id", "medication is not taken as needed")
		}
		if status := med.EffectiveStatus(now); status != StatusActive {
			return apperrors.Conflict("medication %s is %s", med.ID, status)
		}

		// intakes after takenAt also count against it
		intakes, err := tx.ListPRNIntakes(med.ID, takenAt.Add(-prnWindow))
		if err != nil {
			return err
		}
		if med.MaxDailyDoses > 0 && windowLoad(intakes, takenAt, req.Quantity) > med.MaxDailyDoses {
			blocked = true
			if next := nextEligible(intakes, takenAt, req.Quantity, med.MaxDailyDoses); next != nil {
				return apperrors.Conflict("daily maximum of %d doses reached; next dose allowed at %s",
					med.MaxDailyDoses, next.Format(time.RFC3339))
			}
			return apperrors.Conflict("daily maximum of %d doses reached", med.MaxDailyDoses)
		}

		intake := PRNIntake{
			ID:           uuid.NewString(),
			MedicationID: med.ID,
			PatientID:    med.PatientID,
			TakenAt:      takenAt,
			Quantity:     req.Quantity,
			Notes:        strings.TrimSpace(req.Notes),
			CreatedAt:    now,
		}
		if err := tx.CreatePRNIntake(&intake); err != nil {
			return err
		}

		all := append(intakes, intake)
		summary = prnSummary(intake, all, now, med.MaxDailyDoses)
		return nil
	})
	if err != nil {
		if blocked {
			metrics.RecordPRNDose(true)
		}
		return nil, storageErr("record prn dose", err)
	}

	metrics.RecordPRNDose(false)
	s.logger.Info("PRN dose recorded",
		zap.String("medication_id", req.MedicationID),
		zap.Int("quantity", req.Quantity),
		zap.Int("taken_in_window", summary.TakenInWindow),
	)
	return &summary, nil
}

func prnSummary(intake PRNIntake, intakes []PRNIntake, now time.Time, max int) PRNSummary {
	taken, next := prnGuard(intakes, now, max)
	sum := PRNSummary{
		Intake:         intake,
		TakenInWindow:  taken,
		MaxDailyDoses:  max,
		NextEligibleAt: next,
	}
	if max > 0 {
		sum.Remaining = max - taken
		if sum.Remaining < 0 {
			sum.Remaining = 0
		}
	}
	return sum
}

// ListPRNIntakes returns intakes since the given time, oldest first. A zero
// since returns the whole history.
func (s *Service) ListPRNIntakes(ctx context.Context, medicationID string, since time.Time) ([]PRNIntake, error) {
	st := s.store.WithContext(ctx)
	med, err := st.GetMedication(medicationID)
	if err != nil {
		return nil, storageErr("load medication", err)
	}
	if med == nil {
		return nil, apperrors.NotFound("medication", medicationID)
	}
	intakes, err := st.ListPRNIntakes(medicationID, since)
	if err != nil {
		return nil, storageErr("list prn intakes", err)
	}
	return intakes, nil
}
