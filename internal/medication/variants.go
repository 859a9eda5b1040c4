package medication

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// RecordKind discriminates SourceRecord
type RecordKind string

const (
	RecordLegacy  RecordKind = "legacy"
	RecordUnified RecordKind = "unified"
)

// ImportActor is recorded as performed-by for imported lifecycle states
const ImportActor = "import"

// LegacyRecord is the older medication shape: a name, dosage and a
// frequency label, with no reminder times or lifecycle.
type LegacyRecord struct {
	Name      string `json:"name" yaml:"name"`
	Dosage    string `json:"dosage" yaml:"dosage"`
	Frequency string `json:"frequency" yaml:"frequency"`
	Notes     string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// UnifiedRecord carries reminder times and a lifecycle status
type UnifiedRecord struct {
	Name             string           `json:"name" yaml:"name"`
	Dosage           string           `json:"dosage" yaml:"dosage"`
	Frequency        string           `json:"frequency" yaml:"frequency"`
	Instructions     string           `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	PRN              bool             `json:"prn" yaml:"prn"`
	MaxDailyDoses    int              `json:"max_daily_doses,omitempty" yaml:"max_daily_doses,omitempty"`
	RemindersEnabled bool             `json:"reminders_enabled" yaml:"reminders_enabled"`
	ReminderTimes    []string         `json:"reminder_times,omitempty" yaml:"reminder_times,omitempty"`
	StartDate        *time.Time       `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	Status           MedicationStatus `json:"status,omitempty" yaml:"status,omitempty"`
	StatusReason     string           `json:"status_reason,omitempty" yaml:"status_reason,omitempty"`
}

// SourceRecord is a medication from another data source. Exactly one of
// Legacy and Unified is set, as named by Kind.
type SourceRecord struct {
	Kind    RecordKind     `json:"kind" yaml:"kind"`
	Legacy  *LegacyRecord  `json:"legacy,omitempty" yaml:"legacy,omitempty"`
	Unified *UnifiedRecord `json:"unified,omitempty" yaml:"unified,omitempty"`
}

func (r SourceRecord) validate() error {
	switch r.Kind {
	case RecordLegacy:
		if r.Legacy == nil || r.Unified != nil {
			return apperrors.Validation("kind", "legacy record must carry only the legacy body")
		}
	case RecordUnified:
		if r.Unified == nil || r.Legacy != nil {
			return apperrors.Validation("kind", "unified record must carry only the unified body")
		}
	default:
		return apperrors.Validation("kind", "unknown record kind "+string(r.Kind))
	}
	if strings.TrimSpace(r.Name()) == "" {
		return apperrors.Validation("name", "is required")
	}
	return nil
}

func (r SourceRecord) Name() string {
	switch r.Kind {
	case RecordLegacy:
		if r.Legacy != nil {
			return r.Legacy.Name
		}
	case RecordUnified:
		if r.Unified != nil {
			return r.Unified.Name
		}
	}
	return ""
}

func (r SourceRecord) Dosage() string {
	switch r.Kind {
	case RecordLegacy:
		if r.Legacy != nil {
			return r.Legacy.Dosage
		}
	case RecordUnified:
		if r.Unified != nil {
			return r.Unified.Dosage
		}
	}
	return ""
}

// HasReminderTimes reports whether the record names its own times of day
func HasReminderTimes(r SourceRecord) bool {
	return r.Kind == RecordUnified && r.Unified != nil && len(r.Unified.ReminderTimes) > 0
}

// HasLifecycle reports whether the record carries a status other than active
func HasLifecycle(r SourceRecord) bool {
	return r.Kind == RecordUnified && r.Unified != nil && r.Unified.Status != "" && r.Unified.Status != StatusActive
}

// ReminderTimes returns the record's times, or nil when it has none
func ReminderTimes(r SourceRecord) []string {
	if !HasReminderTimes(r) {
		return nil
	}
	return r.Unified.ReminderTimes
}

// ToNewMedication converts a record into creation input. Legacy records
// always get reminders, since they predate the flag.
func ToNewMedication(patientID string, r SourceRecord) (NewMedication, error) {
	if err := r.validate(); err != nil {
		return NewMedication{}, err
	}
	switch r.Kind {
	case RecordLegacy:
		l := r.Legacy
		return NewMedication{
			PatientID:        patientID,
			Name:             l.Name,
			Dosage:           l.Dosage,
			Frequency:        l.Frequency,
			RemindersEnabled: true,
			Instructions:     l.Notes,
		}, nil
	default:
		u := r.Unified
		in := NewMedication{
			PatientID:        patientID,
			Name:             u.Name,
			Dosage:           u.Dosage,
			Frequency:        u.Frequency,
			PRN:              u.PRN,
			RemindersEnabled: u.RemindersEnabled,
			StartDate:        u.StartDate,
			MaxDailyDoses:    u.MaxDailyDoses,
			Instructions:     u.Instructions,
		}
		if HasReminderTimes(r) {
			times, err := NormalizeTimes(u.ReminderTimes)
			if err != nil {
				return NewMedication{}, err
			}
			in.Times = times
		}
		return in, nil
	}
}

// lifecyclePayload maps an imported status onto the change that reaches it
func lifecyclePayload(u *UnifiedRecord) (StatusPayload, error) {
	reason := strings.TrimSpace(u.StatusReason)
	if reason == "" {
		reason = "imported as " + string(u.Status)
	}
	switch u.Status {
	case StatusHeld:
		return HoldPayload{Reason: reason}, nil
	case StatusDiscontinued, StatusReplaced:
		return DiscontinuePayload{Reason: reason}, nil
	}
	return nil, apperrors.Validation("status", "unknown medication status "+string(u.Status))
}

// ImportError is one record that could not be imported
type ImportError struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ImportReport lists what an import created and skipped
type ImportReport struct {
	PatientID string        `json:"patient_id"`
	Created   []string      `json:"created"`
	Skipped   []string      `json:"skipped"`
	Errors    []ImportError `json:"errors"`
}

// ImportRecords creates a medication for every record not already present
// for the patient, matched by name and dosage. Running it twice creates
// nothing the second time. Records are imported one at a time; a failing
// record is reported and does not stop the rest.
func (s *Service) ImportRecords(ctx context.Context, patientID string, records []SourceRecord) (*ImportReport, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperrors.Validation("patient_id", "is required")
	}
	report := &ImportReport{PatientID: patientID, Created: []string{}, Skipped: []string{}, Errors: []ImportError{}}

	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id, created, err := s.importRecord(ctx, patientID, r)
		switch {
		case err != nil && apperrors.GetCode(err) == apperrors.CodeStorage:
			return report, err
		case err != nil:
			report.Errors = append(report.Errors, ImportError{Index: i, Name: r.Name(), Error: err.Error()})
		case created:
			report.Created = append(report.Created, id)
		default:
			report.Skipped = append(report.Skipped, id)
		}
	}

	s.logger.Info("Medications imported",
		zap.String("patient_id", patientID),
		zap.Int("created", len(report.Created)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (s *Service) importRecord(ctx context.Context, patientID string, r SourceRecord) (string, bool, error) {
	in, err := ToNewMedication(patientID, r)
	if err != nil {
		return "", false, err
	}

	existing, err := s.store.WithContext(ctx).FindMedication(patientID, strings.TrimSpace(in.Name), strings.TrimSpace(in.Dosage))
	if err != nil {
		return "", false, storageErr("find medication", err)
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	var payload StatusPayload
	if HasLifecycle(r) {
		if payload, err = lifecyclePayload(r.Unified); err != nil {
			return "", false, err
		}
	}

	med, err := s.CreateMedication(ctx, in)
	if err != nil {
		return "", false, err
	}
	if payload != nil {
		if _, err := s.ChangeMedicationStatus(ctx, StatusChangeRequest{
			MedicationID: med.ID,
			Payload:      payload,
			PerformedBy:  ImportActor,
			Note:         "imported lifecycle state",
		}); err != nil {
			return med.ID, true, err
		}
	}
	return med.ID, true, nil
}
