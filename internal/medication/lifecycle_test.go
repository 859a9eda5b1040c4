package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from   MedicationStatus
		change ChangeType
		want   MedicationStatus
		err    error
	}{
		{StatusActive, ChangeHold, StatusHeld, nil},
		{StatusActive, ChangeDiscontinue, StatusDiscontinued, nil},
		{StatusActive, ChangeReplace, StatusReplaced, nil},
		{StatusActive, ChangeResume, "", apperrors.ErrStateConflict},
		{StatusHeld, ChangeResume, StatusActive, nil},
		{StatusHeld, ChangeHold, "", apperrors.ErrStateConflict},
		{StatusHeld, ChangeDiscontinue, StatusDiscontinued, nil},
		{StatusHeld, ChangeReplace, StatusReplaced, nil},
		{StatusActive, ChangeType("pause"), "", apperrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.change), func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.change)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStatus_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []MedicationStatus{StatusDiscontinued, StatusReplaced} {
		for _, change := range []ChangeType{ChangeHold, ChangeResume, ChangeDiscontinue, ChangeReplace} {
			_, err := NextStatus(from, change)
			assert.ErrorIs(t, err, apperrors.ErrStateConflict, "%s -> %s", from, change)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	now := clockTime(12, 0)
	until := now.Add(-time.Minute)
	later := now.Add(time.Hour)

	assert.Equal(t, StatusActive, DeriveStatus(nil, now))

	log := []StatusChange{
		{Type: ChangeHold, Payload: HoldPayload{Reason: "surgery"}},
		{Type: ChangeResume, Payload: ResumePayload{Reason: "recovered"}},
		{Type: ChangeDiscontinue, Payload: DiscontinuePayload{Reason: "done"}},
	}
	assert.Equal(t, StatusDiscontinued, DeriveStatus(log, now))
	assert.Equal(t, StatusActive, DeriveStatus(log[:2], now))

	expired := []StatusChange{{Type: ChangeHold, Payload: HoldPayload{Reason: "trip", Until: &until, AutoResume: true}}}
	assert.Equal(t, StatusActive, DeriveStatus(expired, now))

	pending := []StatusChange{{Type: ChangeHold, Payload: HoldPayload{Reason: "trip", Until: &later, AutoResume: true}}}
	assert.Equal(t, StatusHeld, DeriveStatus(pending, now))

	manual := []StatusChange{{Type: ChangeHold, Payload: HoldPayload{Reason: "trip", Until: &until}}}
	assert.Equal(t, StatusHeld, DeriveStatus(manual, now))
}

func TestValidatePayload(t *testing.T) {
	now := clockTime(12, 0)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	tests := map[string]struct {
		payload StatusPayload
		field   string
	}{
		"nil payload":            {nil, "payload"},
		"missing reason":         {HoldPayload{}, "reason"},
		"hold until in the past": {HoldPayload{Reason: "x", Until: &past}, "until"},
		"auto resume no until":   {HoldPayload{Reason: "x", AutoResume: true}, "auto_resume"},
		"overlap too long":       {ReplacePayload{Reason: "x", OverlapDays: 91}, "overlap_days"},
		"negative overlap":       {ReplacePayload{Reason: "x", OverlapDays: -1}, "overlap_days"},
		"both replacements": {ReplacePayload{
			Reason: "x", ReplacementMedicationID: "m2", Replacement: &NewMedication{Name: "y"},
		}, "replacement"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := validatePayload(tt.payload, now)
			require.Error(t, err)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.CodeValidation, appErr.Code)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	assert.NoError(t, validatePayload(HoldPayload{Reason: "x", Until: &future, AutoResume: true}, now))
	assert.NoError(t, validatePayload(DiscontinuePayload{Reason: "x", FollowUp: true}, now))
	assert.NoError(t, validatePayload(ReplacePayload{Reason: "x", OverlapDays: 90}, now))
}

func TestScheduleEndFor(t *testing.T) {
	now := clockTime(12, 0)
	stop := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	end, ok := scheduleEndFor(DiscontinuePayload{Reason: "x", StopDate: &stop}, now)
	assert.True(t, ok)
	assert.Equal(t, stop, end)

	end, _ = scheduleEndFor(DiscontinuePayload{Reason: "x", StopDate: &past}, now)
	assert.Equal(t, now, end)

	end, _ = scheduleEndFor(ReplacePayload{Reason: "x", OverlapDays: 3}, now)
	assert.Equal(t, now.AddDate(0, 0, 3), end)

	_, ok = scheduleEndFor(HoldPayload{Reason: "x"}, now)
	assert.False(t, ok)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(ChangeReplace, []byte(`{"reason":"switch","overlap_days":3,"replacement_medication_id":"m2"}`))
	require.NoError(t, err)
	rp, ok := p.(ReplacePayload)
	require.True(t, ok)
	assert.Equal(t, 3, rp.OverlapDays)
	assert.Equal(t, "m2", rp.ReplacementMedicationID)

	_, err = DecodePayload("pause", []byte(`{}`))
	assert.Error(t, err)
}
