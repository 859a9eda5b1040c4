package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

func scheduledAt(slot time.Time) *DoseEvent {
	return &DoseEvent{ID: "e1", ScheduleID: "s1", MedicationID: "m1", PatientID: "p1", ScheduledAt: slot, DueAt: slot, Status: DoseScheduled}
}

func TestEffectiveStatus_MissedAfterGrace(t *testing.T) {
	grace := time.Hour
	e := scheduledAt(clockTime(8, 0))

	assert.Equal(t, DoseScheduled, EffectiveStatus(e, clockTime(9, 0), grace))
	assert.Equal(t, DoseMissed, EffectiveStatus(e, clockTime(9, 1), grace))

	e.DueAt = clockTime(8, 30)
	assert.Equal(t, DoseScheduled, EffectiveStatus(e, clockTime(9, 15), grace))

	e.Status = DoseTaken
	assert.Equal(t, DoseTaken, EffectiveStatus(e, clockTime(23, 0), grace))
}

func TestApplyTake(t *testing.T) {
	grace := time.Hour

	t.Run("records taken time", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		changed, err := applyTake(e, clockTime(8, 10), clockTime(8, 15), grace)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, DoseTaken, e.Status)
		require.NotNil(t, e.TakenAt)
		assert.Equal(t, clockTime(8, 10), *e.TakenAt)
	})

	t.Run("second take is a no-op", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		_, err := applyTake(e, clockTime(8, 10), clockTime(8, 15), grace)
		require.NoError(t, err)

		changed, err := applyTake(e, clockTime(8, 40), clockTime(8, 45), grace)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, clockTime(8, 10), *e.TakenAt)
	})

	t.Run("zero taken time means now", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		_, err := applyTake(e, time.Time{}, clockTime(8, 5), grace)
		require.NoError(t, err)
		assert.Equal(t, clockTime(8, 5), *e.TakenAt)
	})

	t.Run("late log of an on-grace dose", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		changed, err := applyTake(e, clockTime(8, 50), clockTime(11, 0), grace)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("missed dose is rejected", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		_, err := applyTake(e, clockTime(10, 0), clockTime(10, 0), grace)
		assert.ErrorIs(t, err, apperrors.ErrStateConflict)
		assert.Equal(t, DoseScheduled, e.Status)
	})

	t.Run("skipped dose is rejected", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		e.Status = DoseSkipped
		_, err := applyTake(e, clockTime(8, 5), clockTime(8, 5), grace)
		assert.ErrorIs(t, err, apperrors.ErrStateConflict)
	})

	t.Run("future taken time is rejected", func(t *testing.T) {
		e := scheduledAt(clockTime(8, 0))
		_, err := applyTake(e, clockTime(9, 0), clockTime(8, 0), grace)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Nil(t, e.TakenAt)
	})
}

func TestApplySkip(t *testing.T) {
	grace := time.Hour
	now := clockTime(8, 5)

	e := scheduledAt(clockTime(8, 0))
	err := applySkip(e, "", "", now, grace)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, DoseScheduled, e.Status)

	err = applySkip(e, "felt like it", "", now, grace)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, applySkip(e, SkipSideEffects, "  dizzy  ", now, grace))
	assert.Equal(t, DoseSkipped, e.Status)
	assert.Equal(t, SkipSideEffects, e.SkipReason)
	assert.Equal(t, "dizzy", e.SkipNotes)

	err = applySkip(e, SkipOther, "", now, grace)
	assert.ErrorIs(t, err, apperrors.ErrStateConflict)
}

func TestApplySnooze_RepeatsWithoutTerminating(t *testing.T) {
	p := DefaultPolicy()
	e := scheduledAt(clockTime(8, 0))
	now := clockTime(7, 55)

	for i := 0; i < 3; i++ {
		require.NoError(t, applySnooze(e, 10, "busy", now, p))
	}
	assert.Equal(t, DoseScheduled, e.Status)
	assert.Equal(t, 3, e.SnoozeCount)
	assert.Equal(t, clockTime(8, 30), e.DueAt)
	assert.Equal(t, clockTime(8, 0), e.ScheduledAt)

	require.NoError(t, applySnooze(e, 5, "", now, p))
	assert.Equal(t, 4, e.SnoozeCount)

	changed, err := applyTake(e, clockTime(8, 35), clockTime(8, 35), p.MissedGrace)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestApplySnooze_Validation(t *testing.T) {
	p := DefaultPolicy()
	e := scheduledAt(clockTime(8, 0))

	assert.ErrorIs(t, applySnooze(e, 0, "", clockTime(8, 0), p), apperrors.ErrValidation)
	assert.ErrorIs(t, applySnooze(e, -5, "", clockTime(8, 0), p), apperrors.ErrValidation)
	assert.ErrorIs(t, applySnooze(e, 241, "", clockTime(8, 0), p), apperrors.ErrValidation)
	assert.Zero(t, e.SnoozeCount)

	// grace has passed, so the dose is missed
	assert.ErrorIs(t, applySnooze(e, 10, "", clockTime(9, 30), p), apperrors.ErrStateConflict)
}

func TestApplyReschedule(t *testing.T) {
	grace := time.Hour
	now := clockTime(7, 0)

	e := scheduledAt(clockTime(8, 0))
	_, err := applyReschedule(e, clockTime(9, 0), " ", true, now, grace)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = applyReschedule(e, clockTime(6, 0), "earlier", true, now, grace)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, DoseScheduled, e.Status)

	followUp, err := applyReschedule(e, clockTime(9, 0), "appointment", true, now, grace)
	require.NoError(t, err)
	assert.Equal(t, DoseRescheduled, e.Status)
	assert.Equal(t, clockTime(9, 0), *e.RescheduledTo)
	assert.True(t, e.RescheduleOneTime)

	assert.Equal(t, DoseScheduled, followUp.Status)
	assert.Equal(t, clockTime(9, 0), followUp.ScheduledAt)
	assert.Equal(t, e.ID, followUp.RescheduledFromID)
	assert.Equal(t, e.ScheduleID, followUp.ScheduleID)
	assert.NotEqual(t, e.ID, followUp.ID)

	_, err = applyReschedule(e, clockTime(10, 0), "again", true, now, grace)
	assert.ErrorIs(t, err, apperrors.ErrStateConflict)
}

func TestReplaceTimeOfDay(t *testing.T) {
	assert.Equal(t, []string{"09:00", "18:00"}, replaceTimeOfDay([]string{"08:00", "18:00"}, "08:00", "09:00"))
	assert.Equal(t, []string{"18:00"}, replaceTimeOfDay([]string{"08:00", "18:00"}, "08:00", "18:00"))
}
