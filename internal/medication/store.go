package medication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store handles medication persistence
type Store struct {
	db *gorm.DB
}

// NewStore creates a new medication store and migrates its tables
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Medication{}, &Schedule{}, &DoseEvent{}, &StatusChange{}, &PRNIntake{}); err != nil {
		return nil, fmt.Errorf("failed to migrate medication schemas: %w", err)
	}
	return &Store{db: db}, nil
}

// WithContext scopes subsequent calls to ctx
func (s *Store) WithContext(ctx context.Context) *Store {
	return &Store{db: s.db.WithContext(ctx)}
}

// Transaction runs fn against a store bound to one database transaction.
// Everything fn writes commits together or not at all.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Medication operations

func (s *Store) CreateMedication(med *Medication) error {
	return s.db.Create(med).Error
}

func (s *Store) GetMedication(id string) (*Medication, error) {
	var med Medication
	err := s.db.Where("id = ?", id).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

func (s *Store) UpdateMedication(med *Medication) error {
	return s.db.Save(med).Error
}

func (s *Store) ListMedications(patientID string, includeInactive bool) ([]Medication, error) {
	query := s.db.Where("patient_id = ?", patientID)
	if !includeInactive {
		query = query.Where("status IN ?", []MedicationStatus{StatusActive, StatusHeld})
	}

	var meds []Medication
	err := query.Order("created_at ASC, name ASC").Find(&meds).Error
	return meds, err
}

// FindMedication looks up a medication by its natural key
func (s *Store) FindMedication(patientID, name, dosage string) (*Medication, error) {
	var med Medication
	err := s.db.Where("patient_id = ? AND LOWER(name) = LOWER(?) AND dosage = ?", patientID, name, dosage).
		First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

// ListPatientIDsWithReminders returns patients that have at least one
// scheduled medication with reminders on
func (s *Store) ListPatientIDsWithReminders() ([]string, error) {
	var ids []string
	err := s.db.Model(&Medication{}).
		Where("reminders_enabled = ? AND prn = ? AND status IN ?", true, false, []MedicationStatus{StatusActive, StatusHeld}).
		Distinct().Order("patient_id").Pluck("patient_id", &ids).Error
	return ids, err
}

// Schedule operations

func (s *Store) CreateSchedule(sched *Schedule) error {
	return s.db.Create(sched).Error
}

func (s *Store) UpdateSchedule(sched *Schedule) error {
	return s.db.Save(sched).Error
}

func (s *Store) GetSchedule(id string) (*Schedule, error) {
	var sched Schedule
	err := s.db.Where("id = ?", id).First(&sched).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedules returns every schedule of a medication, oldest first
func (s *Store) ListSchedules(medicationID string) ([]Schedule, error) {
	var scheds []Schedule
	err := s.db.Where("medication_id = ?", medicationID).Order("created_at ASC, id ASC").Find(&scheds).Error
	return scheds, err
}

// Dose event operations

// CreateDoseEvents inserts events, silently skipping any slot that another
// writer materialized first. It returns the number actually inserted.
func (s *Store) CreateDoseEvents(events []DoseEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "scheduled_at"}},
		DoNothing: true,
	}).CreateInBatches(events, 200)
	return res.RowsAffected, res.Error
}

func (s *Store) CreateDoseEvent(e *DoseEvent) error {
	return s.db.Create(e).Error
}

func (s *Store) GetDoseEvent(id string) (*DoseEvent, error) {
	var e DoseEvent
	err := s.db.Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateDoseEvent(e *DoseEvent) error {
	return s.db.Save(e).Error
}

// EventFilter selects dose events. Zero fields are ignored; From is
// inclusive and To exclusive on ScheduledAt.
type EventFilter struct {
	PatientID    string
	MedicationID string
	ScheduleID   string
	From         time.Time
	To           time.Time
	Statuses     []DoseStatus
}

func (s *Store) ListDoseEvents(f EventFilter) ([]DoseEvent, error) {
	query := s.db.Model(&DoseEvent{})
	if f.PatientID != "" {
		query = query.Where("patient_id = ?", f.PatientID)
	}
	if f.MedicationID != "" {
		query = query.Where("medication_id = ?", f.MedicationID)
	}
	if f.ScheduleID != "" {
		query = query.Where("schedule_id = ?", f.ScheduleID)
	}
	if !f.From.IsZero() {
		query = query.Where("scheduled_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("scheduled_at < ?", f.To)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}

	var events []DoseEvent
	err := query.Order("scheduled_at ASC, id ASC").Find(&events).Error
	return events, err
}

// CancelScheduledEvents cancels still-scheduled events of a medication
// whose slot is at or after from and whose due time has not passed.
func (s *Store) CancelScheduledEvents(medicationID string, from, now time.Time, reason string) (int64, error) {
	res := s.db.Model(&DoseEvent{}).
		Where("medication_id = ? AND status = ? AND scheduled_at >= ? AND due_at > ?", medicationID, DoseScheduled, from, now).
		Updates(map[string]any{
			"status":        DoseCancelled,
			"cancelled_at":  now,
			"cancel_reason": reason,
		})
	return res.RowsAffected, res.Error
}

// Status change operations

// AppendStatusChange writes the next record in the medication's log
func (s *Store) AppendStatusChange(change *StatusChange) error {
	var last struct{ Max int }
	if err := s.db.Model(&StatusChange{}).
		Select("COALESCE(MAX(sequence), 0) AS max").
		Where("medication_id = ?", change.MedicationID).
		Scan(&last).Error; err != nil {
		return err
	}
	change.Sequence = last.Max + 1
	return s.db.Create(change).Error
}

func (s *Store) ListStatusChanges(medicationID string) ([]StatusChange, error) {
	var changes []StatusChange
	err := s.db.Where("medication_id = ?", medicationID).Order("sequence ASC").Find(&changes).Error
	return changes, err
}

// PRN operations

func (s *Store) CreatePRNIntake(intake *PRNIntake) error {
	return s.db.Create(intake).Error
}

// ListPRNIntakes returns intakes taken after since, oldest first
func (s *Store) ListPRNIntakes(medicationID string, since time.Time) ([]PRNIntake, error) {
	query := s.db.Where("medication_id = ?", medicationID)
	if !since.IsZero() {
		query = query.Where("taken_at > ?", since)
	}
	var intakes []PRNIntake
	err := query.Order("taken_at ASC").Find(&intakes).Error
	return intakes, err
}
