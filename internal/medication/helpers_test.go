package medication

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/store"
)

// monday 2026-03-02 06:00 UTC
var day1 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, 1+day, hour, minute, 0, 0, time.UTC)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, start time.Time) (*Service, *testClock) {
	t.Helper()

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ms, err := NewStore(st.DB())
	require.NoError(t, err)

	svc := NewService(ms, st, DefaultPolicy(), zap.NewNop())
	clk := &testClock{now: start}
	svc.SetClock(clk.Now)
	return svc, clk
}

func createMed(t *testing.T, svc *Service, name, frequency string) *Medication {
	t.Helper()
	med, err := svc.CreateMedication(testContext(t), NewMedication{
		PatientID:        "patient-1",
		Name:             name,
		Dosage:           "10mg",
		Frequency:        frequency,
		RemindersEnabled: true,
	})
	require.NoError(t, err)
	return med
}

func medEvents(t *testing.T, svc *Service, medID string) []DoseEvent {
	t.Helper()
	events, err := svc.DoseEvents(testContext(t), EventFilter{MedicationID: medID})
	require.NoError(t, err)
	return events
}

func eventAt(t *testing.T, events []DoseEvent, slot time.Time) DoseEvent {
	t.Helper()
	for _, e := range events {
		if e.ScheduledAt.Equal(slot) {
			return e
		}
	}
	require.Failf(t, "no event", "no event at %s", slot)
	return DoseEvent{}
}

func countByStatus(events []DoseEvent, status DoseStatus) int {
	n := 0
	for _, e := range events {
		if e.Status == status {
			n++
		}
	}
	return n
}
