package medication

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FrequencyCode is the canonical form of a free-text frequency
type FrequencyCode string

const (
	FrequencyDaily           FrequencyCode = "daily"
	FrequencyTwiceDaily      FrequencyCode = "twice_daily"
	FrequencyThreeTimesDaily FrequencyCode = "three_times_daily"
	FrequencyFourTimesDaily  FrequencyCode = "four_times_daily"
	FrequencyWeekly          FrequencyCode = "weekly"
	FrequencyMonthly         FrequencyCode = "monthly"
	FrequencyAsNeeded        FrequencyCode = "as_needed"
)

func (c FrequencyCode) Valid() bool {
	switch c {
	case FrequencyDaily, FrequencyTwiceDaily, FrequencyThreeTimesDaily, FrequencyFourTimesDaily,
		FrequencyWeekly, FrequencyMonthly, FrequencyAsNeeded:
		return true
	}
	return false
}

// DailyFamily reports whether the code fires every calendar day
func (c FrequencyCode) DailyFamily() bool {
	switch c {
	case FrequencyDaily, FrequencyTwiceDaily, FrequencyThreeTimesDaily, FrequencyFourTimesDaily:
		return true
	}
	return false
}

// MedicationStatus is the medication-level lifecycle state
type MedicationStatus string

const (
	StatusActive       MedicationStatus = "active"
	StatusHeld         MedicationStatus = "held"
	StatusDiscontinued MedicationStatus = "discontinued"
	StatusReplaced     MedicationStatus = "replaced"
)

func (s MedicationStatus) Terminal() bool {
	return s == StatusDiscontinued || s == StatusReplaced
}

// DoseStatus is the per-event state. Missed is never stored; it is derived
// from a scheduled event whose due time plus grace has passed.
type DoseStatus string

const (
	DoseScheduled   DoseStatus = "scheduled"
	DoseTaken       DoseStatus = "taken"
	DoseMissed      DoseStatus = "missed"
	DoseSkipped     DoseStatus = "skipped"
	DoseRescheduled DoseStatus = "rescheduled"
	DoseCancelled   DoseStatus = "cancelled"
)

// Terminal reports whether no further dose action is possible
func (s DoseStatus) Terminal() bool {
	return s != DoseScheduled
}

// SkipReason is the closed set of reasons accepted by skip
type SkipReason string

const (
	SkipNotFeelingWell  SkipReason = "not_feeling_well"
	SkipSideEffects     SkipReason = "side_effects"
	SkipOutOfMedication SkipReason = "out_of_medication"
	SkipDoctorAdvised   SkipReason = "doctor_advised"
	SkipTraveling       SkipReason = "traveling"
	SkipOther           SkipReason = "other"
)

var skipReasons = map[SkipReason]bool{
	SkipNotFeelingWell:  true,
	SkipSideEffects:     true,
	SkipOutOfMedication: true,
	SkipDoctorAdvised:   true,
	SkipTraveling:       true,
	SkipOther:           true,
}

func (r SkipReason) Valid() bool {
	return skipReasons[r]
}

// Medication is owned by a patient and never physically deleted
type Medication struct {
	ID               string           `gorm:"primaryKey;size:36" json:"id"`
	PatientID        string           `gorm:"size:64;index;not null" json:"patient_id"`
	Name             string           `gorm:"not null" json:"name"`
	Dosage           string           `json:"dosage"`
	Frequency        string           `json:"frequency"`
	FrequencyCode    FrequencyCode    `gorm:"size:32" json:"frequency_code"`
	Instructions     string           `json:"instructions,omitempty"`
	Active           bool             `json:"active"`
	PRN              bool             `json:"prn"`
	RemindersEnabled bool             `json:"reminders_enabled"`
	MaxDailyDoses    int              `json:"max_daily_doses,omitempty"`
	Status           MedicationStatus `gorm:"size:20;index" json:"status"`
	StatusReason     string           `json:"status_reason,omitempty"`
	HeldUntil        *time.Time       `json:"held_until,omitempty"`
	AutoResume       bool             `json:"auto_resume,omitempty"`
	ReplacedByID     string           `gorm:"size:36" json:"replaced_by_id,omitempty"`
	ReplacesID       string           `gorm:"size:36" json:"replaces_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// EffectiveStatus applies a due auto-resume without touching storage
func (m *Medication) EffectiveStatus(now time.Time) MedicationStatus {
	if m.autoResumeDue(now) {
		return StatusActive
	}
	if m.Status == "" {
		return StatusActive
	}
	return m.Status
}

func (m *Medication) AfterFind(tx *gorm.DB) error {
	m.HeldUntil = utcPtr(m.HeldUntil)
	return nil
}

func (m *Medication) autoResumeDue(now time.Time) bool {
	return m.Status == StatusHeld && m.AutoResume && m.HeldUntil != nil && !now.Before(*m.HeldUntil)
}

// Schedule turns a frequency into concrete slots. Schedules ended by a
// replace are kept for history, still bound by EndDate, and point at the
// medication that took over.
type Schedule struct {
	ID                     string        `gorm:"primaryKey;size:36" json:"id"`
	MedicationID           string        `gorm:"size:36;index;not null" json:"medication_id"`
	FrequencyCode          FrequencyCode `gorm:"size:32" json:"frequency_code"`
	Times                  []string      `gorm:"-" json:"times"`
	TimesJSON              string        `gorm:"column:times" json:"-"`
	Timezone               string        `gorm:"size:64" json:"timezone"`
	StartDate              time.Time     `json:"start_date"`
	EndDate                *time.Time    `json:"end_date,omitempty"`
	Active                 bool          `json:"active"`
	Paused                 bool          `json:"paused"`
	GenerateEvents         bool          `json:"generate_events"`
	ReplacedByMedicationID string        `gorm:"size:36" json:"replaced_by_medication_id,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

func (s *Schedule) BeforeSave(tx *gorm.DB) error {
	if s.Times == nil {
		s.Times = []string{}
	}
	b, err := json.Marshal(s.Times)
	if err != nil {
		return err
	}
	s.TimesJSON = string(b)
	return nil
}

func (s *Schedule) AfterFind(tx *gorm.DB) error {
	s.StartDate = s.StartDate.UTC()
	s.EndDate = utcPtr(s.EndDate)
	s.Times = nil
	if s.TimesJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.TimesJSON), &s.Times)
}

// Current reports whether the schedule is the live one for its medication
func (s *Schedule) Current() bool {
	return s.Active && s.ReplacedByMedicationID == ""
}

// Location returns the schedule's timezone, falling back to UTC
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DoseEvent is one concrete dose. (ScheduleID, ScheduledAt) identifies the
// slot and is unique; DueAt moves with snoozes while ScheduledAt never does.
type DoseEvent struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	ScheduleID        string     `gorm:"size:36;not null;uniqueIndex:idx_dose_slot" json:"schedule_id"`
	ScheduledAt       time.Time  `gorm:"not null;uniqueIndex:idx_dose_slot;index" json:"scheduled_at"`
	MedicationID      string     `gorm:"size:36;index;not null" json:"medication_id"`
	PatientID         string     `gorm:"size:64;index;not null" json:"patient_id"`
	DueAt             time.Time  `json:"due_at"`
	Status            DoseStatus `gorm:"size:20;index" json:"status"`
	TakenAt           *time.Time `json:"taken_at,omitempty"`
	SkipReason        SkipReason `gorm:"size:32" json:"skip_reason,omitempty"`
	SkipNotes         string     `json:"skip_notes,omitempty"`
	SnoozeCount       int        `json:"snooze_count"`
	SnoozeReason      string     `json:"snooze_reason,omitempty"`
	RescheduledTo     *time.Time `json:"rescheduled_to,omitempty"`
	RescheduleReason  string     `json:"reschedule_reason,omitempty"`
	RescheduleOneTime bool       `json:"reschedule_one_time,omitempty"`
	RescheduledFromID string     `gorm:"size:36" json:"rescheduled_from_id,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AfterFind keeps instants in UTC whatever zone the driver decoded them in
func (e *DoseEvent) AfterFind(tx *gorm.DB) error {
	e.ScheduledAt = e.ScheduledAt.UTC()
	e.DueAt = e.DueAt.UTC()
	e.TakenAt = utcPtr(e.TakenAt)
	e.RescheduledTo = utcPtr(e.RescheduledTo)
	e.CancelledAt = utcPtr(e.CancelledAt)
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ChangeType discriminates the status-change payload
type ChangeType string

const (
	ChangeHold        ChangeType = "hold"
	ChangeResume      ChangeType = "resume"
	ChangeDiscontinue ChangeType = "discontinue"
	ChangeReplace     ChangeType = "replace"
)

// StatusPayload is one of HoldPayload, ResumePayload, DiscontinuePayload
// or ReplacePayload.
type StatusPayload interface {
	ChangeType() ChangeType
	GetReason() string
}

type HoldPayload struct {
	Reason     string     `json:"reason"`
	Until      *time.Time `json:"until,omitempty"`
	AutoResume bool       `json:"auto_resume"`
}

type ResumePayload struct {
	Reason    string `json:"reason"`
	Automatic bool   `json:"automatic,omitempty"`
}

type DiscontinuePayload struct {
	Reason   string     `json:"reason"`
	StopDate *time.Time `json:"stop_date,omitempty"`
	FollowUp bool       `json:"follow_up"`
}

type ReplacePayload struct {
	Reason                  string `json:"reason"`
	TransitionPlan          string `json:"transition_plan,omitempty"`
	OverlapDays             int    `json:"overlap_days"`
	ReplacementMedicationID string `json:"replacement_medication_id,omitempty"`
	// Replacement, when set, is created in the same transaction.
	Replacement *NewMedication `json:"replacement,omitempty"`
}

func (HoldPayload) ChangeType() ChangeType        { return ChangeHold }
func (ResumePayload) ChangeType() ChangeType      { return ChangeResume }
func (DiscontinuePayload) ChangeType() ChangeType { return ChangeDiscontinue }
func (ReplacePayload) ChangeType() ChangeType     { return ChangeReplace }

func (p HoldPayload) GetReason() string        { return p.Reason }
func (p ResumePayload) GetReason() string      { return p.Reason }
func (p DiscontinuePayload) GetReason() string { return p.Reason }
func (p ReplacePayload) GetReason() string     { return p.Reason }

// DecodePayload builds the payload variant named by changeType
func DecodePayload(changeType ChangeType, raw []byte) (StatusPayload, error) {
	var (
		p   StatusPayload
		err error
	)
	switch changeType {
	case ChangeHold:
		var v HoldPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ChangeResume:
		var v ResumePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ChangeDiscontinue:
		var v DiscontinuePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ChangeReplace:
		var v ReplacePayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown change type %q", changeType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", changeType, err)
	}
	return p, nil
}

// StatusChange is an append-only audit record
type StatusChange struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	MedicationID string         `gorm:"size:36;not null;uniqueIndex:idx_status_seq" json:"medication_id"`
	Sequence     int            `gorm:"not null;uniqueIndex:idx_status_seq" json:"sequence"`
	Type         ChangeType     `gorm:"column:change_type;size:20" json:"change_type"`
	Payload      StatusPayload  `gorm:"-" json:"payload"`
	PayloadJSON  datatypes.JSON `gorm:"column:payload" json:"-"`
	PerformedBy  string         `json:"performed_by"`
	Note         string         `json:"note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (c *StatusChange) BeforeCreate(tx *gorm.DB) error {
	if c.Payload == nil {
		return fmt.Errorf("status change has no payload")
	}
	c.Type = c.Payload.ChangeType()
	b, err := json.Marshal(c.Payload)
	if err != nil {
		return err
	}
	c.PayloadJSON = datatypes.JSON(b)
	return nil
}

func (c *StatusChange) BeforeUpdate(tx *gorm.DB) error {
	return fmt.Errorf("status change %s is immutable", c.ID)
}

func (c *StatusChange) AfterFind(tx *gorm.DB) error {
	p, err := DecodePayload(c.Type, c.PayloadJSON)
	if err != nil {
		return err
	}
	c.Payload = p
	return nil
}

// PRNIntake records one as-needed dose
type PRNIntake struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	MedicationID string    `gorm:"size:36;index;not null" json:"medication_id"`
	PatientID    string    `gorm:"size:64;index" json:"patient_id"`
	TakenAt      time.Time `gorm:"index" json:"taken_at"`
	Quantity     int       `json:"quantity"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (in *PRNIntake) AfterFind(tx *gorm.DB) error {
	in.TakenAt = in.TakenAt.UTC()
	return nil
}
