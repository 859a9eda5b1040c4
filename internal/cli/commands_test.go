package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, dir string, args ...string) result {
	t.Helper()
	t.Setenv("MEDTRACK_LOG_LEVEL", "error")
	t.Setenv("MEDTRACK_CRON_ENABLED", "false")

	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--data", dir, "-o", "json", "--by", "tester"}, args...))
	err := root.ExecuteContext(testContext(t))
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	r := run(t, dir, args...)
	require.NoError(t, r.err, "medtrack %s", strings.Join(args, " "))
	return r.stdout
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestVersion(t *testing.T) {
	out := mustRun(t, t.TempDir(), "version")
	assert.Contains(t, out, "medtrack version")
}

func TestInfo(t *testing.T) {
	out := mustRun(t, t.TempDir(), "info")
	assert.Contains(t, out, "Storage: sqlite")
	assert.Contains(t, out, "Missed after:   60 min")
	assert.Contains(t, out, "Sweep: disabled")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "secrets.env")

	out := mustRun(t, dir, "init", "--yes", "--env", envPath)
	assert.Contains(t, out, "Setup complete")
	assert.FileExists(t, filepath.Join(dir, "medtrack.yaml"))
	assert.FileExists(t, envPath)

	r := run(t, dir, "init", "--yes", "--env", envPath)
	assert.ErrorContains(t, r.err, "already exists")

	mustRun(t, dir, "init", "--yes", "--force", "--env", envPath)
	assert.Contains(t, mustRun(t, dir, "info"), "Storage: sqlite")
}

func TestNormalize(t *testing.T) {
	freq := decode[map[string]any](t, mustRun(t, t.TempDir(), "normalize", "twice", "daily"))
	assert.Equal(t, "twice_daily", freq["code"])
	assert.Equal(t, []any{"08:00", "20:00"}, freq["default_times"])
}

func TestMedicationLifecycle(t *testing.T) {
	dir := t.TempDir()

	med := decode[map[string]any](t, mustRun(t, dir, "add",
		"--patient", "p1", "--name", "Lisinopril", "--dosage", "10mg", "--frequency", "twice daily"))
	id := med["id"].(string)
	assert.Equal(t, "twice_daily", med["frequency_code"])
	assert.Equal(t, "active", med["status"])

	// each invocation reopens the sqlite file
	meds := decode[[]map[string]any](t, mustRun(t, dir, "list", "--patient", "p1"))
	require.Len(t, meds, 1)
	assert.Equal(t, id, meds[0]["id"])

	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(time.RFC3339)
	events := decode[[]map[string]any](t, mustRun(t, dir, "generate", id, "--start", tomorrow, "--days", "1"))
	require.NotEmpty(t, events)
	eventID := events[0]["id"].(string)

	taken := decode[map[string]any](t, mustRun(t, dir, "take", eventID))
	assert.Equal(t, "taken", taken["status"])

	again := run(t, dir, "take", eventID)
	require.NoError(t, again.err)
	assert.Contains(t, again.stderr, "already taken")

	mustRun(t, dir, "status", "hold", id, "--reason", "surgery")
	meds = decode[[]map[string]any](t, mustRun(t, dir, "list", "--patient", "p1"))
	assert.Equal(t, "held", meds[0]["status"])

	r := run(t, dir, "status", "hold", id, "--reason", "again")
	assert.Error(t, r.err)

	mustRun(t, dir, "status", "resume", id, "--reason", "recovered")

	history := decode[[]map[string]any](t, mustRun(t, dir, "status", "history", id))
	require.Len(t, history, 2)
	assert.Equal(t, "hold", history[0]["change_type"])
	assert.Equal(t, "tester", history[0]["performed_by"])
	assert.Equal(t, "resume", history[1]["change_type"])

	shown := decode[map[string]any](t, mustRun(t, dir, "show", id))
	assert.Contains(t, shown, "schedules")
	assert.Len(t, shown["history"], 2)
}

func TestSkipRequiresKnownReason(t *testing.T) {
	dir := t.TempDir()
	med := decode[map[string]any](t, mustRun(t, dir, "add",
		"--patient", "p1", "--name", "Metformin", "--dosage", "500mg", "--frequency", "daily"))

	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(time.RFC3339)
	events := decode[[]map[string]any](t, mustRun(t, dir, "generate", med["id"].(string), "--start", tomorrow, "--days", "1"))
	require.NotEmpty(t, events)
	eventID := events[0]["id"].(string)

	r := run(t, dir, "skip", eventID, "--reason", "bored")
	assert.Error(t, r.err)

	skipped := decode[map[string]any](t, mustRun(t, dir, "skip", eventID, "--reason", "traveling"))
	assert.Equal(t, "skipped", skipped["status"])
}

func TestRequiresPatient(t *testing.T) {
	for _, args := range [][]string{{"list"}, {"today"}, {"repair"}, {"adherence"}} {
		r := run(t, t.TempDir(), args...)
		assert.ErrorContains(t, r.err, "--patient is required", args[0])
	}
}

func TestPRN(t *testing.T) {
	dir := t.TempDir()
	med := decode[map[string]any](t, mustRun(t, dir, "add",
		"--patient", "p1", "--name", "Ibuprofen", "--dosage", "200mg", "--frequency", "as needed",
		"--prn", "--max-daily", "3"))
	id := med["id"].(string)
	assert.Equal(t, false, med["reminders_enabled"])

	mustRun(t, dir, "prn", "take", id, "--notes", "headache")
	intakes := decode[[]map[string]any](t, mustRun(t, dir, "prn", "list", id))
	assert.Len(t, intakes, 1)
}

func TestBucketsAndImport(t *testing.T) {
	dir := t.TempDir()

	settings := filepath.Join(dir, "buckets.yaml")
	require.NoError(t, os.WriteFile(settings, []byte(`
timezone: Europe/Berlin
buckets:
  - {name: morning, label: Morning, time: "07:00"}
  - {name: evening, label: Evening, time: "19:00"}
`), 0644))
	mustRun(t, dir, "buckets", "set", "--patient", "p2", "--file", settings)

	ps := decode[map[string]any](t, mustRun(t, dir, "buckets", "show", "--patient", "p2"))
	assert.Equal(t, "Europe/Berlin", ps["timezone"])
	assert.Len(t, ps["buckets"], 2)

	records := filepath.Join(dir, "records.yaml")
	require.NoError(t, os.WriteFile(records, []byte(`
- kind: legacy
  legacy: {name: Aspirin, dosage: 81mg, frequency: once daily}
- kind: unified
  unified:
    name: Atorvastatin
    dosage: 20mg
    frequency: nightly
    reminders_enabled: true
    reminder_times: ["21:00"]
`), 0644))

	report := decode[map[string]any](t, mustRun(t, dir, "import", "--patient", "p2", "--file", records))
	assert.Len(t, report["created"], 2)

	report = decode[map[string]any](t, mustRun(t, dir, "import", "--patient", "p2", "--file", records))
	assert.Empty(t, report["created"])
	assert.Len(t, report["skipped"], 2)

	view := decode[map[string]any](t, mustRun(t, dir, "today", "--patient", "p2"))
	assert.Equal(t, "Europe/Berlin", view["timezone"])

	mustRun(t, dir, "repair", "--patient", "p2")
	mustRun(t, dir, "adherence", "--patient", "p2", "--days", "7")

	sweep := decode[map[string]any](t, mustRun(t, dir, "sweep"))
	assert.EqualValues(t, 1, sweep["patients"])
}

func TestParseWhen(t *testing.T) {
	ts, err := parseWhen("2026-03-01T08:30:00Z")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)))

	ts, err = parseWhen("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	ts, err = parseWhen("07:15")
	require.NoError(t, err)
	assert.Equal(t, 7, ts.Hour())
	assert.Equal(t, 15, ts.Minute())

	_, err = parseWhen("next tuesday")
	assert.Error(t, err)
}

func TestTextOutput(t *testing.T) {
	rt := &runtime{output: "text"}
	assert.True(t, rt.textOutput(&bytes.Buffer{}))
	rt.output = "auto"
	assert.False(t, rt.textOutput(&bytes.Buffer{}))

	assert.Equal(t, "in 1h05", dueIn(65))
	assert.Equal(t, "3 min late", dueIn(-3))
}
