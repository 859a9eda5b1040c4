package medication

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// DefaultAdherenceDays is the window used when none is given
const DefaultAdherenceDays = 30

func (s *Service) adherenceWindow(w Window, now time.Time, loc *time.Location) (Window, error) {
	if w.Start.IsZero() && w.End.IsZero() {
		return LastNDays(now, DefaultAdherenceDays, loc), nil
	}
	if w.End.IsZero() {
		w.End = StartOfDay(now, loc).AddDate(0, 0, 1).UTC()
	}
	if !w.End.After(w.Start) {
		return Window{}, apperrors.Validation("window", "end must be after start")
	}
	return Window{Start: w.Start.UTC(), End: w.End.UTC()}, nil
}

// eventRange covers the window plus the streak lookback
func eventRange(w Window, now time.Time, loc *time.Location) (time.Time, time.Time) {
	today := StartOfDay(now, loc)
	from := w.Start
	if lookback := today.AddDate(0, 0, -streakLookbackDays).UTC(); lookback.Before(from) {
		from = lookback
	}
	to := w.End
	if tomorrow := today.AddDate(0, 0, 1).UTC(); tomorrow.After(to) {
		to = tomorrow
	}
	return from, to
}

// ComputeMedicationAdherence derives adherence for one medication over w.
// PRN medications have nothing scheduled and report risk none.
func (s *Service) ComputeMedicationAdherence(ctx context.Context, medicationID string, w Window) (*AdherenceRecord, error) {
	now := s.clock()
	p := s.Policy()
	st := s.store.WithContext(ctx)

	med, err := st.GetMedication(medicationID)
	if err != nil {
		return nil, storageErr("load medication", err)
	}
	if med == nil {
		return nil, apperrors.NotFound("medication", medicationID)
	}
	if err := s.applyDueAutoResumes(ctx, []Medication{*med}); err != nil {
		return nil, err
	}
	settings, err := loadSettings(s.kv, med.PatientID, p)
	if err != nil {
		return nil, err
	}
	loc := settings.Location(p.DefaultTimezone)
	if w, err = s.adherenceWindow(w, now, loc); err != nil {
		return nil, err
	}

	var events []DoseEvent
	if !med.PRN {
		from, to := eventRange(w, now, loc)
		if events, err = st.ListDoseEvents(EventFilter{MedicationID: med.ID, From: from, To: to}); err != nil {
			return nil, storageErr("list dose events", err)
		}
	}
	rec := ComputeAdherence(events, w, now, p, loc)
	rec.MedicationID = med.ID
	rec.MedicationName = med.Name
	rec.PatientID = med.PatientID
	return &rec, nil
}

// ComputePatientAdherence reports every scheduled medication the patient
// has had, plus an overall record across all of them.
func (s *Service) ComputePatientAdherence(ctx context.Context, patientID string, w Window) (*PatientAdherence, error) {
	now := s.clock()
	p := s.Policy()
	st := s.store.WithContext(ctx)

	if err := s.applyPatientAutoResumes(ctx, patientID); err != nil {
		return nil, err
	}
	settings, err := loadSettings(s.kv, patientID, p)
	if err != nil {
		return nil, err
	}
	loc := settings.Location(p.DefaultTimezone)
	if w, err = s.adherenceWindow(w, now, loc); err != nil {
		return nil, err
	}

	meds, err := st.ListMedications(patientID, true)
	if err != nil {
		return nil, storageErr("list medications", err)
	}
	from, to := eventRange(w, now, loc)
	all, err := st.ListDoseEvents(EventFilter{PatientID: patientID, From: from, To: to})
	if err != nil {
		return nil, storageErr("list dose events", err)
	}

	byMed := make(map[string][]DoseEvent)
	for _, e := range all {
		byMed[e.MedicationID] = append(byMed[e.MedicationID], e)
	}

	out := &PatientAdherence{PatientID: patientID, Medications: []AdherenceRecord{}}
	var scheduled []DoseEvent
	for _, med := range meds {
		if med.PRN {
			continue
		}
		events := byMed[med.ID]
		scheduled = append(scheduled, events...)

		rec := ComputeAdherence(events, w, now, p, loc)
		rec.MedicationID = med.ID
		rec.MedicationName = med.Name
		rec.PatientID = patientID
		out.Medications = append(out.Medications, rec)
	}
	out.Overall = ComputeAdherence(scheduled, w, now, p, loc)
	out.Overall.PatientID = patientID
	return out, nil
}
