package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

func clockTime(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestBucketFor_Boundaries(t *testing.T) {
	c, err := NewClassifier(DefaultBuckets())
	require.NoError(t, err)

	tests := []struct {
		hour, minute int
		want         string
	}{
		{9, 59, "morning"},
		{10, 1, "noon"},
		{14, 59, "noon"},
		{15, 1, "evening"},
		{19, 59, "evening"},
		{20, 1, "bedtime"},
		{2, 59, "bedtime"},
		{3, 1, "morning"},
		// exact midpoints belong to the later bucket
		{10, 0, "noon"},
		{3, 0, "morning"},
		{0, 0, "bedtime"},
		{23, 59, "bedtime"},
		{8, 0, "morning"},
	}
	for _, tt := range tests {
		got := c.BucketFor(clockTime(tt.hour, tt.minute))
		assert.Equal(t, tt.want, got.Name, "%02d:%02d", tt.hour, tt.minute)
	}
}

func TestBucketFor_CustomAndUnsortedAnchors(t *testing.T) {
	c, err := NewClassifier([]Bucket{
		{Name: "late", Label: "Late", Time: "21:00"},
		{Name: "early", Label: "Early", Time: "07:00"},
	})
	require.NoError(t, err)

	// midpoints at 14:00 and 02:00
	assert.Equal(t, "early", c.BucketFor(clockTime(13, 59)).Name)
	assert.Equal(t, "late", c.BucketFor(clockTime(14, 0)).Name)
	assert.Equal(t, "late", c.BucketFor(clockTime(1, 59)).Name)
	assert.Equal(t, "early", c.BucketFor(clockTime(2, 0)).Name)

	names := []string{}
	for _, b := range c.Buckets() {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"early", "late"}, names)
}

func TestBucketFor_SingleBucketCoversDay(t *testing.T) {
	c, err := NewClassifier([]Bucket{{Name: "any", Time: "12:00"}})
	require.NoError(t, err)
	for _, h := range []int{0, 6, 12, 23} {
		assert.Equal(t, "any", c.BucketFor(clockTime(h, 30)).Name)
	}
}

func TestNewClassifier_Validation(t *testing.T) {
	tests := map[string][]Bucket{
		"empty":            {},
		"bad time":         {{Name: "a", Time: "8am"}},
		"hour out of rng":  {{Name: "a", Time: "24:00"}},
		"duplicate name":   {{Name: "a", Time: "08:00"}, {Name: "a", Time: "09:00"}},
		"duplicate anchor": {{Name: "a", Time: "08:00"}, {Name: "b", Time: "08:00"}},
		"missing name":     {{Time: "08:00"}},
	}
	for name, buckets := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewClassifier(buckets)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestClassifyUrgency(t *testing.T) {
	now := clockTime(12, 0)
	p := DefaultPolicy()

	tests := []struct {
		name   string
		status DoseStatus
		due    time.Time
		want   Urgency
	}{
		{"within now window ahead", DoseScheduled, clockTime(12, 10), UrgencyNow},
		{"within now window behind", DoseScheduled, clockTime(11, 50), UrgencyNow},
		{"now window edge", DoseScheduled, clockTime(12, 15), UrgencyNow},
		{"overdue", DoseScheduled, clockTime(11, 30), UrgencyOverdue},
		{"due soon", DoseScheduled, clockTime(13, 30), UrgencyDueSoon},
		{"due soon edge", DoseScheduled, clockTime(14, 0), UrgencyDueSoon},
		{"later", DoseScheduled, clockTime(14, 30), UrgencyLater},
		{"taken", DoseTaken, clockTime(12, 0), UrgencyDone},
		{"missed", DoseMissed, clockTime(9, 0), UrgencyDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyUrgency(tt.status, tt.due, now, p.UrgencyNow, p.UrgencySoon))
		})
	}
}

func TestClassifyBucket_SnoozeKeepsBucket(t *testing.T) {
	c, err := NewClassifier(DefaultBuckets())
	require.NoError(t, err)
	p := DefaultPolicy()

	e := &DoseEvent{ScheduledAt: clockTime(9, 50), DueAt: clockTime(10, 40), Status: DoseScheduled}
	got := ClassifyBucket(e, c, time.UTC, clockTime(10, 0), p)

	assert.Equal(t, "morning", got.Bucket.Name)
	assert.Equal(t, 40, got.MinutesUntilDue)
	assert.Equal(t, UrgencyDueSoon, got.Urgency)
}

func TestMinutesUntil(t *testing.T) {
	now := clockTime(12, 0)
	assert.Equal(t, -30, MinutesUntil(clockTime(11, 30), now))
	assert.Equal(t, 45, MinutesUntil(clockTime(12, 45), now))
	assert.Equal(t, 0, MinutesUntil(now.Add(30*time.Second), now))
	assert.Equal(t, -1, MinutesUntil(now.Add(-30*time.Second), now))
}

func TestNormalizeTimes(t *testing.T) {
	got, err := NormalizeTimes([]string{"18:00", "08:00", "18:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "18:00"}, got)

	_, err = NormalizeTimes(nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = NormalizeTimes([]string{"08:00", "25:00"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
