package medication

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

const secondsPerDay = 24 * 60 * 60

// Bucket is a named time-of-day anchor. Its window runs from the midpoint
// with the previous anchor up to the midpoint with the next one.
type Bucket struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
	Time  string `json:"time" yaml:"time"`
}

func DefaultBuckets() []Bucket {
	return []Bucket{
		{Name: "morning", Label: "Morning", Time: "08:00"},
		{Name: "noon", Label: "Lunch", Time: "12:00"},
		{Name: "evening", Label: "Evening", Time: "18:00"},
		{Name: "bedtime", Label: "Before bed", Time: "22:00"},
	}
}

// ParseClock parses "HH:MM" into minutes after midnight
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return h*60 + m, nil
}

// NormalizeTimes validates a times-of-day list and returns it sorted and
// free of duplicates. An empty list is rejected.
func NormalizeTimes(times []string) ([]string, error) {
	if len(times) == 0 {
		return nil, apperrors.Validation("times", "at least one time of day is required")
	}
	for _, t := range times {
		if _, err := ParseClock(t); err != nil {
			return nil, apperrors.Validation("times", err.Error())
		}
	}
	return sortUnique(times), nil
}

type bucketWindow struct {
	bucket Bucket
	start  int // seconds after midnight, may be negative before wrapping
	length int
}

// Classifier assigns times of day to buckets
type Classifier struct {
	windows []bucketWindow
}

// NewClassifier validates the bucket set: at least one bucket, HH:MM
// anchors, unique names and unique anchors.
func NewClassifier(buckets []Bucket) (*Classifier, error) {
	if len(buckets) == 0 {
		return nil, apperrors.Validation("buckets", "at least one bucket is required")
	}

	type anchored struct {
		bucket Bucket
		at     int
	}
	sorted := make([]anchored, 0, len(buckets))
	names := make(map[string]bool)
	anchors := make(map[int]bool)
	for _, b := range buckets {
		if b.Name == "" {
			return nil, apperrors.Validation("buckets", "bucket name is required")
		}
		mins, err := ParseClock(b.Time)
		if err != nil {
			return nil, apperrors.Validation("buckets", err.Error())
		}
		if names[b.Name] {
			return nil, apperrors.Validation("buckets", fmt.Sprintf("duplicate bucket %q", b.Name))
		}
		if anchors[mins] {
			return nil, apperrors.Validation("buckets", fmt.Sprintf("duplicate anchor time %s", b.Time))
		}
		names[b.Name] = true
		anchors[mins] = true
		sorted = append(sorted, anchored{bucket: b, at: mins * 60})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].at < sorted[j].at })

	n := len(sorted)
	if n == 1 {
		return &Classifier{windows: []bucketWindow{{bucket: sorted[0].bucket, start: 0, length: secondsPerDay}}}, nil
	}

	starts := make([]int, n)
	for i := range sorted {
		prev := sorted[(i-1+n)%n].at
		if i == 0 {
			prev -= secondsPerDay
		}
		starts[i] = prev + (sorted[i].at-prev)/2
	}

	windows := make([]bucketWindow, n)
	for i := range sorted {
		end := starts[(i+1)%n]
		if i == n-1 {
			end += secondsPerDay
		}
		windows[i] = bucketWindow{bucket: sorted[i].bucket, start: starts[i], length: end - starts[i]}
	}
	return &Classifier{windows: windows}, nil
}

// Buckets returns the buckets in anchor order
func (c *Classifier) Buckets() []Bucket {
	out := make([]Bucket, len(c.windows))
	for i, w := range c.windows {
		out[i] = w.bucket
	}
	return out
}

// BucketFor returns the bucket whose window holds the wall-clock time of t.
// Windows are half open, so a time exactly on a midpoint belongs to the
// later bucket.
func (c *Classifier) BucketFor(t time.Time) Bucket {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	for _, w := range c.windows {
		offset := ((sec-w.start)%secondsPerDay + secondsPerDay) % secondsPerDay
		if offset < w.length {
			return w.bucket
		}
	}
	return c.windows[0].bucket
}

// Urgency is the time-relative grouping shown on top of buckets
type Urgency string

const (
	UrgencyOverdue Urgency = "overdue"
	UrgencyNow     Urgency = "now"
	UrgencyDueSoon Urgency = "due_soon"
	UrgencyLater   Urgency = "later"
	UrgencyDone    Urgency = "done"
)

// ClassifyUrgency groups an actionable dose by its distance from now.
// Only scheduled doses are actionable; everything else is done.
func ClassifyUrgency(status DoseStatus, due, now time.Time, nowWindow, soonWindow time.Duration) Urgency {
	if status != DoseScheduled {
		return UrgencyDone
	}
	diff := due.Sub(now)
	switch {
	case diff.Abs() <= nowWindow:
		return UrgencyNow
	case diff < 0:
		return UrgencyOverdue
	case diff <= soonWindow:
		return UrgencyDueSoon
	default:
		return UrgencyLater
	}
}

// MinutesUntil is negative when due lies in the past
func MinutesUntil(due, now time.Time) int {
	return int(math.Floor(due.Sub(now).Minutes()))
}

// BucketAssignment is the result of classifying one dose
type BucketAssignment struct {
	Bucket          Bucket     `json:"bucket"`
	MinutesUntilDue int        `json:"minutes_until_due"`
	Status          DoseStatus `json:"status"`
	Urgency         Urgency    `json:"urgency"`
}

// ClassifyBucket places a dose in its time-of-day bucket using the slot
// time, and measures minutes until due from the snoozed due time.
func ClassifyBucket(e *DoseEvent, c *Classifier, loc *time.Location, now time.Time, p Policy) BucketAssignment {
	status := EffectiveStatus(e, now, p.MissedGrace)
	return BucketAssignment{
		Bucket:          c.BucketFor(e.ScheduledAt.In(loc)),
		MinutesUntilDue: MinutesUntil(e.DueAt, now),
		Status:          status,
		Urgency:         ClassifyUrgency(status, e.DueAt, now, p.UrgencyNow, p.UrgencySoon),
	}
}
