package medication

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utcDate(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestSlots_DailyFamily(t *testing.T) {
	start := utcDate(2026, 3, 2, 0, 0)
	s := &Schedule{ID: "s1", FrequencyCode: FrequencyTwiceDaily, Times: []string{"08:00", "20:00"}, StartDate: start}

	slots, err := Slots(s, start, start.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utcDate(2026, 3, 2, 8, 0), utcDate(2026, 3, 2, 20, 0),
		utcDate(2026, 3, 3, 8, 0), utcDate(2026, 3, 3, 20, 0),
		utcDate(2026, 3, 4, 8, 0), utcDate(2026, 3, 4, 20, 0),
	}, slots)
}

func TestSlots_RangeBoundsAreHalfOpen(t *testing.T) {
	start := utcDate(2026, 3, 2, 0, 0)
	s := &Schedule{ID: "s1", FrequencyCode: FrequencyDaily, Times: []string{"08:00"}, StartDate: start}

	slots, err := Slots(s, utcDate(2026, 3, 2, 8, 0), utcDate(2026, 3, 4, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utcDate(2026, 3, 2, 8, 0), utcDate(2026, 3, 3, 8, 0)}, slots)
}

func TestSlots_WeeklyUsesAnchorWeekday(t *testing.T) {
	// 2026-03-04 is a Wednesday
	start := utcDate(2026, 3, 4, 0, 0)
	s := &Schedule{ID: "s1", FrequencyCode: FrequencyWeekly, Times: []string{"08:00"}, StartDate: start}

	slots, err := Slots(s, utcDate(2026, 3, 1, 0, 0), utcDate(2026, 3, 25, 0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 3)
	for _, slot := range slots {
		assert.Equal(t, time.Wednesday, slot.Weekday())
	}
	assert.Equal(t, utcDate(2026, 3, 4, 8, 0), slots[0])
}

func TestSlots_MonthlyClampsShortMonths(t *testing.T) {
	start := utcDate(2026, 1, 31, 0, 0)
	s := &Schedule{ID: "s1", FrequencyCode: FrequencyMonthly, Times: []string{"08:00"}, StartDate: start}

	slots, err := Slots(s, start, utcDate(2026, 4, 30, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utcDate(2026, 1, 31, 8, 0),
		utcDate(2026, 2, 28, 8, 0),
		utcDate(2026, 3, 31, 8, 0),
	}, slots)
}

func TestSlots_EndDateIsExclusive(t *testing.T) {
	start := utcDate(2026, 3, 2, 0, 0)
	end := utcDate(2026, 3, 4, 0, 0)
	s := &Schedule{ID: "s1", FrequencyCode: FrequencyDaily, Times: []string{"08:00"}, StartDate: start, EndDate: &end}

	slots, err := Slots(s, start, start.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestSlots_LocalTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := StartOfDay(time.Date(2026, 3, 7, 12, 0, 0, 0, loc), loc)
	s := &Schedule{ID: "s1", FrequencyCode: FrequencyDaily, Times: []string{"08:00"}, Timezone: "America/New_York", StartDate: start.UTC()}

	// DST starts on 2026-03-08
	slots, err := Slots(s, start.UTC(), start.AddDate(0, 0, 2).UTC())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utcDate(2026, 3, 7, 13, 0), utcDate(2026, 3, 8, 12, 0)}, slots)
	for _, slot := range slots {
		assert.Equal(t, "08:00", slot.In(loc).Format("15:04"))
	}
}

func TestSlots_Errors(t *testing.T) {
	start := utcDate(2026, 3, 2, 0, 0)

	_, err := Slots(&Schedule{ID: "s1", FrequencyCode: "fortnightly", Times: []string{"08:00"}, StartDate: start}, start, start.AddDate(0, 0, 1))
	assert.Error(t, err)

	_, err = Slots(&Schedule{ID: "s1", FrequencyCode: FrequencyDaily, Times: []string{"8 o'clock"}, StartDate: start}, start, start.AddDate(0, 0, 1))
	assert.Error(t, err)

	slots, err := Slots(&Schedule{ID: "s1", FrequencyCode: FrequencyAsNeeded, StartDate: start}, start, start.AddDate(0, 0, 1))
	assert.NoError(t, err)
	assert.Empty(t, slots)
}

func TestPlanGeneration(t *testing.T) {
	now := utcDate(2026, 3, 2, 12, 0)
	s := &Schedule{ID: "s1"}
	med := &Medication{ID: "m1", PatientID: "p1"}
	cancelledAt := now

	existing := []DoseEvent{
		{ID: "past-cancelled", ScheduledAt: utcDate(2026, 3, 2, 8, 0), Status: DoseCancelled, CancelledAt: &cancelledAt},
		{ID: "future-cancelled", ScheduledAt: utcDate(2026, 3, 2, 20, 0), DueAt: utcDate(2026, 3, 2, 20, 30), Status: DoseCancelled, CancelledAt: &cancelledAt, SnoozeCount: 1},
		{ID: "taken", ScheduledAt: utcDate(2026, 3, 3, 8, 0), Status: DoseTaken},
	}
	slots := []time.Time{
		utcDate(2026, 3, 2, 8, 0), utcDate(2026, 3, 2, 20, 0),
		utcDate(2026, 3, 3, 8, 0), utcDate(2026, 3, 3, 20, 0),
	}

	plan := planGeneration(s, med, slots, existing, now)

	require.Len(t, plan.create, 1)
	assert.Equal(t, utcDate(2026, 3, 3, 20, 0), plan.create[0].ScheduledAt)
	assert.Equal(t, DoseScheduled, plan.create[0].Status)
	assert.Equal(t, "m1", plan.create[0].MedicationID)

	require.Len(t, plan.revive, 1)
	revived := plan.revive[0]
	assert.Equal(t, "future-cancelled", revived.ID)
	assert.Equal(t, DoseScheduled, revived.Status)
	assert.Equal(t, revived.ScheduledAt, revived.DueAt)
	assert.Nil(t, revived.CancelledAt)
	assert.Zero(t, revived.SnoozeCount)
}

func TestCanGenerate(t *testing.T) {
	now := utcDate(2026, 3, 2, 12, 0)
	end := now.AddDate(0, 0, 2)
	live := func() *Schedule { return &Schedule{Active: true, GenerateEvents: true} }

	assert.True(t, canGenerate(&Medication{Status: StatusActive}, live(), now))
	assert.False(t, canGenerate(&Medication{Status: StatusActive, PRN: true}, live(), now))
	assert.False(t, canGenerate(&Medication{Status: StatusHeld}, live(), now))
	assert.False(t, canGenerate(&Medication{Status: StatusDiscontinued}, live(), now))

	bounded := live()
	bounded.EndDate = &end
	assert.True(t, canGenerate(&Medication{Status: StatusReplaced}, bounded, now))

	paused := live()
	paused.Paused = true
	assert.False(t, canGenerate(&Medication{Status: StatusActive}, paused, now))

	off := live()
	off.GenerateEvents = false
	assert.False(t, canGenerate(&Medication{Status: StatusActive}, off, now))

	until := now.Add(-time.Hour)
	expired := &Medication{Status: StatusHeld, AutoResume: true, HeldUntil: &until}
	assert.True(t, canGenerate(expired, live(), now))
}
