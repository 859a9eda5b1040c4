package medication

import (
	"encoding/json"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Policy holds the thresholds used to derive missed doses, urgency and
// adherence.
type Policy struct {
	MissedGrace       time.Duration
	OnTimeTolerance   time.Duration
	RollingWindowDays int
	UrgencyNow        time.Duration
	UrgencySoon       time.Duration
	MaxSnooze         time.Duration
	DefaultTimezone   *time.Location
	DefaultBuckets    []Bucket
}

func DefaultPolicy() Policy {
	return Policy{
		MissedGrace:       60 * time.Minute,
		OnTimeTolerance:   30 * time.Minute,
		RollingWindowDays: 14,
		UrgencyNow:        15 * time.Minute,
		UrgencySoon:       2 * time.Hour,
		MaxSnooze:         4 * time.Hour,
		DefaultTimezone:   time.UTC,
		DefaultBuckets:    DefaultBuckets(),
	}
}

// KV is the key-value store patient settings live in
type KV interface {
	GetKV(key string) ([]byte, error)
	SetKV(key string, value []byte) error
}

// PatientSettings are the per-patient overrides for timezone and buckets
type PatientSettings struct {
	Timezone string   `json:"timezone" yaml:"timezone"`
	Buckets  []Bucket `json:"buckets" yaml:"buckets"`
}

func settingsKey(patientID string) string {
	return "patient:" + patientID + ":settings"
}

// Location returns the settings timezone or fallback
func (ps PatientSettings) Location(fallback *time.Location) *time.Location {
	if ps.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(ps.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

func loadSettings(kv KV, patientID string, p Policy) (PatientSettings, error) {
	defaults := PatientSettings{
		Timezone: p.DefaultTimezone.String(),
		Buckets:  append([]Bucket{}, p.DefaultBuckets...),
	}
	if kv == nil {
		return defaults, nil
	}

	raw, err := kv.GetKV(settingsKey(patientID))
	if err != nil {
		return PatientSettings{}, apperrors.Storage("load patient settings", err)
	}
	if raw == nil {
		return defaults, nil
	}

	var ps PatientSettings
	if err := json.Unmarshal(raw, &ps); err != nil {
		return PatientSettings{}, apperrors.Storage("decode patient settings", err)
	}
	if ps.Timezone == "" {
		ps.Timezone = defaults.Timezone
	}
	if len(ps.Buckets) == 0 {
		ps.Buckets = defaults.Buckets
	}
	return ps, nil
}

func validateSettings(ps PatientSettings) error {
	if ps.Timezone != "" {
		if _, err := time.LoadLocation(ps.Timezone); err != nil {
			return apperrors.Validation("timezone", err.Error())
		}
	}
	if len(ps.Buckets) > 0 {
		if _, err := NewClassifier(ps.Buckets); err != nil {
			return err
		}
	}
	return nil
}
