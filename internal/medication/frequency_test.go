package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		text  string
		code  FrequencyCode
		times []string
	}{
		{"Once daily", FrequencyDaily, []string{"08:00"}},
		{"DAILY", FrequencyDaily, []string{"08:00"}},
		{"qd", FrequencyDaily, []string{"08:00"}},
		{"BID", FrequencyTwiceDaily, []string{"08:00", "18:00"}},
		{"b.i.d.", FrequencyTwiceDaily, []string{"08:00", "18:00"}},
		{"tid", FrequencyThreeTimesDaily, []string{"08:00", "12:00", "18:00"}},
		{"Four times daily", FrequencyFourTimesDaily, []string{"08:00", "12:00", "18:00", "22:00"}},
		{"every 8 hours", FrequencyThreeTimesDaily, []string{"06:00", "14:00", "22:00"}},
		{"q12h", FrequencyTwiceDaily, []string{"08:00", "20:00"}},
		{"Every 6 hours", FrequencyFourTimesDaily, []string{"00:00", "06:00", "12:00", "18:00"}},
		{"weekly", FrequencyWeekly, []string{"08:00"}},
		{"Once a month", FrequencyMonthly, []string{"08:00"}},
		{"PRN", FrequencyAsNeeded, []string{}},
		{"as needed for pain", FrequencyAsNeeded, []string{}},
		{"twice daily at 9am and 9pm", FrequencyTwiceDaily, []string{"09:00", "21:00"}},
		{"daily at 21:30", FrequencyDaily, []string{"21:30"}},
		{"morning and bedtime", FrequencyTwiceDaily, []string{"08:00", "22:00"}},
		{"every evening", FrequencyDaily, []string{"18:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := n.Normalize(tt.text)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.times, got.Times)
			assert.True(t, got.Recognized)
		})
	}
}

func TestNormalize_UnrecognizedFallsBackToDaily(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewNormalizer(zap.New(core))

	for _, text := range []string{"", "whenever grandma remembers", "3 puffs"} {
		got := n.Normalize(text)
		assert.Equal(t, FrequencyDaily, got.Code, text)
		assert.Equal(t, []string{"08:00"}, got.Times, text)
		assert.False(t, got.Recognized, text)
	}

	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "whenever grandma remembers", logs.All()[1].ContextMap()["frequency"])
}

// Every preset label must land its default times in the expected buckets.
func TestNormalize_KnownLabelsRoundTrip(t *testing.T) {
	n := NewNormalizer(nil)
	c, err := NewClassifier(DefaultBuckets())
	require.NoError(t, err)

	expected := map[string]struct {
		code    FrequencyCode
		buckets []string
	}{
		"Once daily":        {FrequencyDaily, []string{"morning"}},
		"Twice daily":       {FrequencyTwiceDaily, []string{"morning", "evening"}},
		"Three times daily": {FrequencyThreeTimesDaily, []string{"morning", "noon", "evening"}},
		"Four times daily":  {FrequencyFourTimesDaily, []string{"morning", "noon", "evening", "bedtime"}},
		"Every 6 hours":     {FrequencyFourTimesDaily, []string{"bedtime", "morning", "noon", "evening"}},
		"Every 8 hours":     {FrequencyThreeTimesDaily, []string{"morning", "noon", "bedtime"}},
		"Every 12 hours":    {FrequencyTwiceDaily, []string{"morning", "bedtime"}},
		"Every morning":     {FrequencyDaily, []string{"morning"}},
		"Every evening":     {FrequencyDaily, []string{"evening"}},
		"At bedtime":        {FrequencyDaily, []string{"bedtime"}},
		"Once weekly":       {FrequencyWeekly, []string{"morning"}},
		"Once monthly":      {FrequencyMonthly, []string{"morning"}},
		"As needed":         {FrequencyAsNeeded, nil},
	}
	require.Len(t, expected, len(KnownFrequencyLabels))

	for _, label := range KnownFrequencyLabels {
		want, ok := expected[label]
		require.True(t, ok, "no expectation for %q", label)

		got := n.Normalize(label)
		assert.Equal(t, want.code, got.Code, label)
		assert.True(t, got.Recognized, label)

		var buckets []string
		for _, clock := range got.Times {
			mins, err := ParseClock(clock)
			require.NoError(t, err)
			ts := time.Date(2026, 3, 2, mins/60, mins%60, 0, 0, time.UTC)
			buckets = append(buckets, c.BucketFor(ts).Name)
		}
		assert.Equal(t, want.buckets, buckets, label)
	}
}

func TestDefaultTimes_ReturnsCopy(t *testing.T) {
	times := DefaultTimes(FrequencyTwiceDaily)
	times[0] = "03:00"
	assert.Equal(t, []string{"08:00", "18:00"}, DefaultTimes(FrequencyTwiceDaily))
	assert.Empty(t, DefaultTimes(FrequencyAsNeeded))
}
