package medication

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/security"
)

// SystemActor is recorded as performed-by for changes the engine makes itself
const SystemActor = "system"

// streakLookbackDays bounds how far back a current streak is searched
const streakLookbackDays = 90

// Service is the scheduling and adherence engine
type Service struct {
	store      *Store
	kv         KV
	normalizer *Normalizer
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.RWMutex
	policy Policy
}

// NewService creates the engine. kv may be nil, in which case every patient
// uses the policy's default timezone and buckets.
func NewService(store *Store, kv KV, policy Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.DefaultTimezone == nil {
		policy.DefaultTimezone = time.UTC
	}
	if len(policy.DefaultBuckets) == 0 {
		policy.DefaultBuckets = DefaultBuckets()
	}
	return &Service{
		store:      store,
		kv:         kv,
		normalizer: NewNormalizer(logger),
		logger:     logger,
		now:        time.Now,
		policy:     policy,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetPolicy swaps the thresholds used by subsequent calls
func (s *Service) SetPolicy(p Policy) {
	if p.DefaultTimezone == nil {
		p.DefaultTimezone = time.UTC
	}
	if len(p.DefaultBuckets) == 0 {
		p.DefaultBuckets = DefaultBuckets()
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Service) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Service) clock() time.Time {
	return normalizeTime(s.now())
}

// storageErr wraps raw persistence errors; AppErrors pass through untouched
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Storage(op, err)
}

// NormalizeFrequency maps free text to a canonical code and default times
func (s *Service) NormalizeFrequency(text string) Frequency {
	return s.normalizer.Normalize(text)
}

// NewMedication is the input for creating a medication
type NewMedication struct {
	PatientID        string     `json:"patient_id" yaml:"patient_id"`
	Name             string     `json:"name" yaml:"name"`
	Dosage           string     `json:"dosage" yaml:"dosage"`
	Frequency        string     `json:"frequency" yaml:"frequency"`
	PRN              bool       `json:"prn" yaml:"prn"`
	RemindersEnabled bool       `json:"reminders_enabled" yaml:"reminders_enabled"`
	Times            []string   `json:"times,omitempty" yaml:"times,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	MaxDailyDoses    int        `json:"max_daily_doses,omitempty" yaml:"max_daily_doses,omitempty"`
	Instructions     string     `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

func (in NewMedication) validate() error {
	if strings.TrimSpace(in.PatientID) == "" {
		return apperrors.Validation("patient_id", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("name", "is required")
	}
	if err := security.ValidateName("name", in.Name); err != nil {
		return err
	}
	if err := security.ValidateName("dosage", in.Dosage); err != nil {
		return err
	}
	if err := security.ValidateShortText("frequency", in.Frequency); err != nil {
		return err
	}
	if err := security.ValidateNotes("instructions", in.Instructions); err != nil {
		return err
	}
	if in.MaxDailyDoses < 0 {
		return apperrors.Validation("max_daily_doses", "must not be negative")
	}
	if len(in.Times) > 0 {
		if _, err := NormalizeTimes(in.Times); err != nil {
			return err
		}
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return apperrors.Validation("end_date", "must not be before start_date")
	}
	return nil
}

// CreateMedication stores a medication and, unless it is PRN, its schedule.
// With reminders on, the rolling window of dose events is generated too.
func (s *Service) CreateMedication(ctx context.Context, in NewMedication) (*Medication, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.clock()
	p := s.Policy()

	settings, err := loadSettings(s.kv, in.PatientID, p)
	if err != nil {
		return nil, err
	}
	loc := settings.Location(p.DefaultTimezone)

	var med *Medication
	err = s.store.Transaction(ctx, func(tx *Store) error {
		var err error
		med, _, err = s.createMedicationTx(tx, in, loc, now, p)
		return err
	})
	if err != nil {
		return nil, storageErr("create medication", err)
	}

	s.logger.Info("Medication created",
		zap.String("medication_id", med.ID),
		zap.String("patient_id", med.PatientID),
		zap.String("frequency_code", string(med.FrequencyCode)),
	)
	return med, nil
}

func (s *Service) createMedicationTx(tx *Store, in NewMedication, loc *time.Location, now time.Time, p Policy) (*Medication, *Schedule, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	freq := Frequency{Code: FrequencyAsNeeded, Times: []string{}, Recognized: true}
	if !in.PRN {
		freq = s.normalizer.Normalize(in.Frequency)
	}
	prn := in.PRN || freq.Code == FrequencyAsNeeded

	med := &Medication{
		ID:               uuid.NewString(),
		PatientID:        strings.TrimSpace(in.PatientID),
		Name:             strings.TrimSpace(in.Name),
		Dosage:           strings.TrimSpace(in.Dosage),
		Frequency:        in.Frequency,
		FrequencyCode:    freq.Code,
		Instructions:     in.Instructions,
		Active:           true,
		PRN:              prn,
		RemindersEnabled: in.RemindersEnabled && !prn,
		MaxDailyDoses:    in.MaxDailyDoses,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.CreateMedication(med); err != nil {
		return nil, nil, err
	}
	if prn {
		return med, nil, nil
	}

	times := freq.Times
	if len(in.Times) > 0 {
		times, _ = NormalizeTimes(in.Times)
	}

	start := StartOfDay(now, loc)
	if in.StartDate != nil {
		start = StartOfDay(*in.StartDate, loc)
	}
	sched := &Schedule{
		ID:             uuid.NewString(),
		MedicationID:   med.ID,
		FrequencyCode:  freq.Code,
		Times:          times,
		Timezone:       loc.String(),
		StartDate:      start.UTC(),
		Active:         true,
		GenerateEvents: med.RemindersEnabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.EndDate != nil {
		end := StartOfDay(*in.EndDate, loc).AddDate(0, 0, 1).UTC()
		sched.EndDate = &end
	}
	if err := tx.CreateSchedule(sched); err != nil {
		return nil, nil, err
	}

	if _, err := s.materializeTx(tx, med, sched, now, now.AddDate(0, 0, p.RollingWindowDays), now); err != nil {
		return nil, nil, err
	}
	return med, sched, nil
}

// materializeTx writes the missing events of sched in [from, to)
func (s *Service) materializeTx(tx *Store, med *Medication, sched *Schedule, from, to, now time.Time) (int, error) {
	if !canGenerate(med, sched, now) {
		return 0, nil
	}
	slots, err := Slots(sched, from, to)
	if err != nil {
		return 0, apperrors.Validation("times", err.Error())
	}
	if len(slots) == 0 {
		return 0, nil
	}

	first, last := slots[0], slots[0]
	for _, t := range slots {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	existing, err := tx.ListDoseEvents(EventFilter{ScheduleID: sched.ID, From: first, To: last.Add(time.Second)})
	if err != nil {
		return 0, err
	}

	plan := planGeneration(sched, med, slots, existing, now)
	created, err := tx.CreateDoseEvents(plan.create)
	if err != nil {
		return 0, err
	}
	for i := range plan.revive {
		if err := tx.UpdateDoseEvent(&plan.revive[i]); err != nil {
			return 0, err
		}
	}

	total := int(created) + len(plan.revive)
	metrics.RecordEventsGenerated(total)
	return total, nil
}

func (s *Service) loadMedicationTx(tx *Store, id string) (*Medication, error) {
	med, err := tx.GetMedication(id)
	if err != nil {
		return nil, err
	}
	if med == nil {
		return nil, apperrors.NotFound("medication", id)
	}
	return med, nil
}

func currentSchedules(tx *Store, medicationID string) ([]Schedule, error) {
	all, err := tx.ListSchedules(medicationID)
	if err != nil {
		return nil, err
	}
	var out []Schedule
	for _, sc := range all {
		if sc.Current() {
			out = append(out, sc)
		}
	}
	return out, nil
}

// GetMedication returns the medication with its lazily derived status
func (s *Service) GetMedication(ctx context.Context, id string) (*Medication, error) {
	med, err := s.store.WithContext(ctx).GetMedication(id)
	if err != nil {
		return nil, storageErr("load medication", err)
	}
	if med == nil {
		return nil, apperrors.NotFound("medication", id)
	}
	med.Status = med.EffectiveStatus(s.clock())
	return med, nil
}

// ListMedications lists a patient's medications. Discontinued and replaced
// ones are included only when includeInactive is set.
func (s *Service) ListMedications(ctx context.Context, patientID string, includeInactive bool) ([]Medication, error) {
	meds, err := s.store.WithContext(ctx).ListMedications(patientID, includeInactive)
	if err != nil {
		return nil, storageErr("list medications", err)
	}
	now := s.clock()
	for i := range meds {
		meds[i].Status = meds[i].EffectiveStatus(now)
	}
	return meds, nil
}

// Schedules returns every schedule of a medication, superseded ones included
func (s *Service) Schedules(ctx context.Context, medicationID string) ([]Schedule, error) {
	scheds, err := s.store.WithContext(ctx).ListSchedules(medicationID)
	if err != nil {
		return nil, storageErr("list schedules", err)
	}
	return scheds, nil
}

// DoseEvents lists events with derived statuses applied
func (s *Service) DoseEvents(ctx context.Context, f EventFilter) ([]DoseEvent, error) {
	switch {
	case f.MedicationID != "":
		med, err := s.store.WithContext(ctx).GetMedication(f.MedicationID)
		if err != nil {
			return nil, storageErr("load medication", err)
		}
		if med != nil {
			if err := s.applyDueAutoResumes(ctx, []Medication{*med}); err != nil {
				return nil, err
			}
		}
	case f.PatientID != "":
		if err := s.applyPatientAutoResumes(ctx, f.PatientID); err != nil {
			return nil, err
		}
	}

	events, err := s.store.WithContext(ctx).ListDoseEvents(f)
	if err != nil {
		return nil, storageErr("list dose events", err)
	}
	now := s.clock()
	grace := s.Policy().MissedGrace
	for i := range events {
		events[i].Status = EffectiveStatus(&events[i], now, grace)
	}
	return events, nil
}

// GetDoseEvent returns one event with its derived status
func (s *Service) GetDoseEvent(ctx context.Context, id string) (*DoseEvent, error) {
	e, err := s.store.WithContext(ctx).GetDoseEvent(id)
	if err != nil {
		return nil, storageErr("load dose event", err)
	}
	if e == nil {
		return nil, apperrors.NotFound("dose event", id)
	}
	out := WithEffectiveStatus(*e, s.clock(), s.Policy().MissedGrace)
	return &out, nil
}

// ListPatientsWithReminders returns patients the background sweep visits
func (s *Service) ListPatientsWithReminders(ctx context.Context) ([]string, error) {
	ids, err := s.store.WithContext(ctx).ListPatientIDsWithReminders()
	if err != nil {
		return nil, storageErr("list patients", err)
	}
	return ids, nil
}

// GenerateRequest asks for the events covering Days days from StartDate.
// Code and Times, when given, replace the schedule's; StartDate, when
// given, becomes the schedule's anchor date.
type GenerateRequest struct {
	MedicationID string        `json:"medication_id"`
	Code         FrequencyCode `json:"code,omitempty"`
	Times        []string      `json:"times,omitempty"`
	StartDate    time.Time     `json:"start_date"`
	Days         int           `json:"days"`
}

// GenerateSchedule materializes the events for a range and returns every
// live event in it. Running it again for the same range writes nothing new
// and returns the same set.
func (s *Service) GenerateSchedule(ctx context.Context, req GenerateRequest) ([]DoseEvent, error) {
	p := s.Policy()
	if req.Days < 0 || req.Days > 366 {
		return nil, apperrors.Validation("days", "must be between 0 and 366")
	}
	if req.Days == 0 {
		req.Days = p.RollingWindowDays
	}
	if req.Code != "" && (!req.Code.Valid() || req.Code == FrequencyAsNeeded) {
		return nil, apperrors.Validation("code", "not a schedulable frequency code")
	}
	var times []string
	if len(req.Times) > 0 {
		var err error
		if times, err = NormalizeTimes(req.Times); err != nil {
			return nil, err
		}
	}
	now := s.clock()

	var from, to time.Time
	var generated int
	var medID string
	err := s.store.Transaction(ctx, func(tx *Store) error {
		med, err := s.loadMedicationTx(tx, req.MedicationID)
		if err != nil {
			return err
		}
		medID = med.ID
		if med.PRN {
			return apperrors.Validation("medication_id", "as-needed medications have no generated doses")
		}
		if _, err := s.materializeAutoResumeTx(tx, med, now, p); err != nil {
			return err
		}
		if !med.RemindersEnabled {
			return apperrors.Conflict("reminders are disabled for medication %s", med.ID)
		}

		status := med.EffectiveStatus(now)
		if status == StatusHeld {
			return apperrors.Conflict("medication %s is held; no doses are generated", med.ID)
		}

		var targets []Schedule
		if status == StatusActive {
			sched, err := s.prepareScheduleTx(tx, med, req.Code, times, req.StartDate, now, p)
			if err != nil {
				return err
			}
			targets = []Schedule{*sched}
		} else {
			if req.Code != "" || len(times) > 0 {
				return apperrors.Conflict("medication %s is %s; its schedule cannot change", med.ID, status)
			}
			if targets, err = tx.ListSchedules(med.ID); err != nil {
				return err
			}
		}

		for i := range targets {
			sched := &targets[i]
			loc := sched.Location()
			start := sched.StartDate
			if !req.StartDate.IsZero() {
				start = StartOfDay(req.StartDate, loc).UTC()
			}
			end := StartOfDay(start, loc).AddDate(0, 0, req.Days).UTC()
			if from.IsZero() || start.Before(from) {
				from = start
			}
			if end.After(to) {
				to = end
			}
			n, err := s.materializeTx(tx, med, sched, start, end, now)
			if err != nil {
				return err
			}
			generated += n
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("generate schedule", err)
	}

	s.logger.Info("Schedule generated",
		zap.String("medication_id", medID),
		zap.Int("created", generated),
		zap.Time("from", from),
		zap.Time("to", to),
	)

	events, err := s.DoseEvents(ctx, EventFilter{MedicationID: medID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	live := events[:0]
	for _, e := range events {
		if e.Status != DoseCancelled {
			live = append(live, e)
		}
	}
	return live, nil
}

// prepareScheduleTx returns the current schedule of an active medication,
// creating it or applying a new code, times or anchor date as requested.
func (s *Service) prepareScheduleTx(tx *Store, med *Medication, code FrequencyCode, times []string, startDate, now time.Time, p Policy) (*Schedule, error) {
	current, err := currentSchedules(tx, med.ID)
	if err != nil {
		return nil, err
	}

	if len(current) == 0 {
		if code == "" {
			code = med.FrequencyCode
		}
		if !code.Valid() || code == FrequencyAsNeeded {
			code = s.normalizer.Normalize(med.Frequency).Code
		}
		if len(times) == 0 {
			times = DefaultTimes(code)
		}
		settings, err := loadSettings(s.kv, med.PatientID, p)
		if err != nil {
			return nil, err
		}
		loc := settings.Location(p.DefaultTimezone)
		start := StartOfDay(now, loc)
		if !startDate.IsZero() {
			start = StartOfDay(startDate, loc)
		}
		sched := &Schedule{
			ID:             uuid.NewString(),
			MedicationID:   med.ID,
			FrequencyCode:  code,
			Times:          times,
			Timezone:       loc.String(),
			StartDate:      start.UTC(),
			Active:         true,
			GenerateEvents: true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateSchedule(sched); err != nil {
			return nil, err
		}
		return sched, nil
	}

	sched := &current[len(current)-1]
	changed := false
	if code != "" && code != sched.FrequencyCode {
		sched.FrequencyCode = code
		if len(times) == 0 {
			times = DefaultTimes(code)
		}
		changed = true
	}
	if len(times) > 0 && strings.Join(times, ",") != strings.Join(sched.Times, ",") {
		sched.Times = times
		changed = true
	}
	if !startDate.IsZero() {
		start := StartOfDay(startDate, sched.Location()).UTC()
		if !start.Equal(sched.StartDate) {
			sched.StartDate = start
			changed = true
		}
	}
	if changed {
		sched.UpdatedAt = now
		if err := tx.UpdateSchedule(sched); err != nil {
			return nil, err
		}
		if sched.FrequencyCode != med.FrequencyCode {
			med.FrequencyCode = sched.FrequencyCode
			med.UpdatedAt = now
			if err := tx.UpdateMedication(med); err != nil {
				return nil, err
			}
		}
	}
	return sched, nil
}

// SetReminders turns generated reminders on or off. Turning them off
// cancels future scheduled doses; turning them on regenerates the window.
func (s *Service) SetReminders(ctx context.Context, medicationID string, enabled bool) (*Medication, error) {
	now := s.clock()
	p := s.Policy()

	var med *Medication
	err := s.store.Transaction(ctx, func(tx *Store) error {
		var err error
		if med, err = s.loadMedicationTx(tx, medicationID); err != nil {
			return err
		}
		if med.PRN {
			return apperrors.Validation("medication_id", "as-needed medications have no reminders")
		}
		if _, err := s.materializeAutoResumeTx(tx, med, now, p); err != nil {
			return err
		}
		if med.EffectiveStatus(now).Terminal() {
			return apperrors.Conflict("medication %s is %s", med.ID, med.EffectiveStatus(now))
		}

		med.RemindersEnabled = enabled
		med.UpdatedAt = now
		if err := tx.UpdateMedication(med); err != nil {
			return err
		}

		scheds, err := currentSchedules(tx, med.ID)
		if err != nil {
			return err
		}
		if enabled && len(scheds) == 0 && med.EffectiveStatus(now) == StatusActive {
			sched, err := s.prepareScheduleTx(tx, med, "", nil, time.Time{}, now, p)
			if err != nil {
				return err
			}
			scheds = []Schedule{*sched}
		}
		for i := range scheds {
			sched := &scheds[i]
			sched.GenerateEvents = enabled
			sched.UpdatedAt = now
			if err := tx.UpdateSchedule(sched); err != nil {
				return err
			}
			if enabled {
				if _, err := s.materializeTx(tx, med, sched, now, now.AddDate(0, 0, p.RollingWindowDays), now); err != nil {
					return err
				}
			}
		}
		if !enabled {
			if _, err := tx.CancelScheduledEvents(med.ID, now, now, "reminders disabled"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("set reminders", err)
	}
	med.Status = med.EffectiveStatus(now)
	return med, nil
}

// ClassifyDose places one event in the patient's buckets
func (s *Service) ClassifyDose(ctx context.Context, eventID string) (*BucketAssignment, error) {
	e, err := s.store.WithContext(ctx).GetDoseEvent(eventID)
	if err != nil {
		return nil, storageErr("load dose event", err)
	}
	if e == nil {
		return nil, apperrors.NotFound("dose event", eventID)
	}
	p := s.Policy()
	settings, err := loadSettings(s.kv, e.PatientID, p)
	if err != nil {
		return nil, err
	}
	c, err := NewClassifier(settings.Buckets)
	if err != nil {
		return nil, err
	}
	a := ClassifyBucket(e, c, settings.Location(p.DefaultTimezone), s.clock(), p)
	return &a, nil
}

// DoseView is one dose as shown in a day view
type DoseView struct {
	DoseEvent
	MedicationName  string  `json:"medication_name"`
	Dosage          string  `json:"dosage"`
	Bucket          string  `json:"bucket"`
	MinutesUntilDue int     `json:"minutes_until_due"`
	Urgency         Urgency `json:"urgency"`
}

// BucketView groups the doses of one time-of-day bucket
type BucketView struct {
	Bucket
	Doses    []DoseView `json:"doses"`
	Complete bool       `json:"complete"`
}

// DayView is today's doses for one patient, bucketed and grouped by urgency
type DayView struct {
	PatientID   string       `json:"patient_id"`
	Date        string       `json:"date"`
	Timezone    string       `json:"timezone"`
	GeneratedAt time.Time    `json:"generated_at"`
	Buckets     []BucketView `json:"buckets"`
	Overdue     []DoseView   `json:"overdue"`
	Now         []DoseView   `json:"now"`
	DueSoon     []DoseView   `json:"due_soon"`
}

// TodayView only writes to catch up holds whose auto-resume date has
// passed; calling it repeatedly or concurrently is safe.
func (s *Service) TodayView(ctx context.Context, patientID string) (*DayView, error) {
	now := s.clock()
	p := s.Policy()

	if err := s.applyPatientAutoResumes(ctx, patientID); err != nil {
		return nil, err
	}

	settings, err := loadSettings(s.kv, patientID, p)
	if err != nil {
		return nil, err
	}
	loc := settings.Location(p.DefaultTimezone)
	c, err := NewClassifier(settings.Buckets)
	if err != nil {
		return nil, err
	}

	st := s.store.WithContext(ctx)
	start := StartOfDay(now, loc)
	events, err := st.ListDoseEvents(EventFilter{PatientID: patientID, From: start.UTC(), To: start.AddDate(0, 0, 1).UTC()})
	if err != nil {
		return nil, storageErr("list dose events", err)
	}
	meds, err := st.ListMedications(patientID, true)
	if err != nil {
		return nil, storageErr("list medications", err)
	}
	byID := make(map[string]*Medication, len(meds))
	for i := range meds {
		byID[meds[i].ID] = &meds[i]
	}

	view := &DayView{
		PatientID:   patientID,
		Date:        start.Format("2006-01-02"),
		Timezone:    loc.String(),
		GeneratedAt: now,
		Overdue:     []DoseView{},
		Now:         []DoseView{},
		DueSoon:     []DoseView{},
	}
	index := make(map[string]int)
	for i, b := range c.Buckets() {
		index[b.Name] = i
		view.Buckets = append(view.Buckets, BucketView{Bucket: b, Doses: []DoseView{}, Complete: true})
	}

	for i := range events {
		e := &events[i]
		if e.Status == DoseCancelled {
			continue
		}
		a := ClassifyBucket(e, c, loc, now, p)
		dv := DoseView{
			DoseEvent:       WithEffectiveStatus(*e, now, p.MissedGrace),
			Bucket:          a.Bucket.Name,
			MinutesUntilDue: a.MinutesUntilDue,
			Urgency:         a.Urgency,
		}
		if med := byID[e.MedicationID]; med != nil {
			dv.MedicationName = med.Name
			dv.Dosage = med.Dosage
		}

		bv := &view.Buckets[index[a.Bucket.Name]]
		bv.Doses = append(bv.Doses, dv)
		if !dv.Status.Terminal() {
			bv.Complete = false
		}

		switch a.Urgency {
		case UrgencyOverdue:
			view.Overdue = append(view.Overdue, dv)
		case UrgencyNow:
			view.Now = append(view.Now, dv)
		case UrgencyDueSoon:
			view.DueSoon = append(view.DueSoon, dv)
		}
	}
	for i := range view.Buckets {
		sort.SliceStable(view.Buckets[i].Doses, func(a, b int) bool {
			return view.Buckets[i].Doses[a].DueAt.Before(view.Buckets[i].Doses[b].DueAt)
		})
	}
	return view, nil
}

// GetPatientSettings returns stored settings merged over the defaults
func (s *Service) GetPatientSettings(ctx context.Context, patientID string) (PatientSettings, error) {
	return loadSettings(s.kv, patientID, s.Policy())
}

// UpdatePatientSettings validates and stores a patient's bucket set and
// timezone. Existing schedules keep the timezone they were created with.
func (s *Service) UpdatePatientSettings(ctx context.Context, patientID string, ps PatientSettings) (PatientSettings, error) {
	if strings.TrimSpace(patientID) == "" {
		return PatientSettings{}, apperrors.Validation("patient_id", "is required")
	}
	if err := validateSettings(ps); err != nil {
		return PatientSettings{}, err
	}
	if s.kv == nil {
		return PatientSettings{}, apperrors.Storage("save patient settings", errors.New("no settings store configured"))
	}
	raw, err := json.Marshal(ps)
	if err != nil {
		return PatientSettings{}, apperrors.Wrap(err, apperrors.CodeValidation, "encode patient settings")
	}
	if err := s.kv.SetKV(settingsKey(patientID), raw); err != nil {
		return PatientSettings{}, apperrors.Storage("save patient settings", err)
	}
	return loadSettings(s.kv, patientID, s.Policy())
}
