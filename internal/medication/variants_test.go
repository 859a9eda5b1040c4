package medication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

const importYAML = `
- kind: legacy
  legacy:
    name: Aspirin
    dosage: 81mg
    frequency: once daily
- kind: unified
  unified:
    name: Metformin
    dosage: 500mg
    frequency: twice daily
    reminders_enabled: true
    reminder_times: ["19:30", "07:30"]
- kind: unified
  unified:
    name: Warfarin
    dosage: 5mg
    frequency: daily
    reminders_enabled: true
    status: held
    status_reason: INR too high
- kind: fhir
  legacy:
    name: Mystery
`

func TestCapabilities(t *testing.T) {
	legacy := SourceRecord{Kind: RecordLegacy, Legacy: &LegacyRecord{Name: "Aspirin"}}
	unified := SourceRecord{Kind: RecordUnified, Unified: &UnifiedRecord{Name: "Metformin", ReminderTimes: []string{"07:30"}, Status: StatusActive}}
	held := SourceRecord{Kind: RecordUnified, Unified: &UnifiedRecord{Name: "Warfarin", Status: StatusHeld}}

	assert.False(t, HasReminderTimes(legacy))
	assert.False(t, HasLifecycle(legacy))
	assert.Nil(t, ReminderTimes(legacy))

	assert.True(t, HasReminderTimes(unified))
	assert.False(t, HasLifecycle(unified))
	assert.Equal(t, []string{"07:30"}, ReminderTimes(unified))

	assert.False(t, HasReminderTimes(held))
	assert.True(t, HasLifecycle(held))
}

func TestToNewMedication(t *testing.T) {
	in, err := ToNewMedication("p1", SourceRecord{Kind: RecordLegacy, Legacy: &LegacyRecord{Name: "Aspirin", Dosage: "81mg", Frequency: "qd", Notes: "with food"}})
	require.NoError(t, err)
	assert.True(t, in.RemindersEnabled)
	assert.Equal(t, "with food", in.Instructions)
	assert.Equal(t, "p1", in.PatientID)

	in, err = ToNewMedication("p1", SourceRecord{Kind: RecordUnified, Unified: &UnifiedRecord{Name: "Metformin", ReminderTimes: []string{"19:30", "07:30"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"07:30", "19:30"}, in.Times)

	_, err = ToNewMedication("p1", SourceRecord{Kind: RecordUnified, Unified: &UnifiedRecord{Name: "X", ReminderTimes: []string{"7"}}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = ToNewMedication("p1", SourceRecord{Kind: RecordLegacy, Unified: &UnifiedRecord{Name: "X"}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = ToNewMedication("p1", SourceRecord{Kind: RecordLegacy, Legacy: &LegacyRecord{Name: " "}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestImportRecords_Idempotent(t *testing.T) {
	svc, _ := newTestService(t, day1)
	ctx := testContext(t)

	var records []SourceRecord
	require.NoError(t, yaml.Unmarshal([]byte(importYAML), &records))
	require.Len(t, records, 4)

	report, err := svc.ImportRecords(ctx, "patient-1", records)
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)
	assert.Empty(t, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Index)

	meds, err := svc.ListMedications(ctx, "patient-1", true)
	require.NoError(t, err)
	require.Len(t, meds, 3)

	byName := make(map[string]Medication)
	for _, m := range meds {
		byName[m.Name] = m
	}
	assert.Equal(t, StatusHeld, byName["Warfarin"].Status)
	assert.Equal(t, "INR too high", byName["Warfarin"].StatusReason)
	assert.Equal(t, FrequencyTwiceDaily, byName["Metformin"].FrequencyCode)

	scheds, err := svc.Schedules(ctx, byName["Metformin"].ID)
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	assert.Equal(t, []string{"07:30", "19:30"}, scheds[0].Times)

	history, err := svc.StatusHistory(ctx, byName["Warfarin"].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ImportActor, history[0].PerformedBy)

	again, err := svc.ImportRecords(ctx, "patient-1", records)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Len(t, again.Skipped, 3)

	meds, err = svc.ListMedications(ctx, "patient-1", true)
	require.NoError(t, err)
	assert.Len(t, meds, 3)
}
