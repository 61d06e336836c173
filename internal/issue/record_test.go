package issue

import (
	"encoding/json"
	"testing"
	"time"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	waveerrors "github.com/randalmurphal/waverunner/internal/errors"
)

func validWave() *ActiveWave {
	return &ActiveWave{
		RunID:             "run-abc123",
		ActiveWaveID:      "wave-def456",
		ActiveWavePhase:   PhaseImplement,
		ActiveWaveTaskIDs: []string{"T1", "T2"},
		ReservedStatusByTaskID: map[string]TaskStatus{
			"T1": StatusPending,
			"T2": StatusFailed,
		},
		ReservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordRoundTripPreservesSettingsAndExtras(t *testing.T) {
	in := []byte(`{
		"phase": "implement_task",
		"issueNumber": 42,
		"settings": {"taskExecution": {"mode": "parallel", "maxParallelTasks": 3}, "provider": "claude"},
		"status": {"taskPassed": false, "taskFailed": true, "hasMoreTasks": true, "allTasksComplete": false, "lastError": "boom"}
	}`)

	var rec Record
	require.NoError(t, json.Unmarshal(in, &rec))
	assert.Equal(t, PhaseImplement, rec.Phase)
	assert.True(t, rec.Status.TaskFailed)
	assert.Contains(t, rec.Extra, "issueNumber")
	assert.Contains(t, rec.Status.Extra, "lastError")

	te := rec.TaskExecution()
	assert.Equal(t, ModeParallel, te.Mode)
	assert.Equal(t, 3, te.MaxParallelTasks)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, 3, back.TaskExecution().MaxParallelTasks)
	assert.JSONEq(t, `42`, string(back.Extra["issueNumber"]))
	assert.JSONEq(t, `"boom"`, string(back.Status.Extra["lastError"]))
}

func TestStatusParallelRoundTrip(t *testing.T) {
	rec := Record{Phase: PhaseImplement, Status: Status{Parallel: validWave()}}

	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var back Record
	require.NoError(t, json.Unmarshal(out, &back))
	require.NotNil(t, back.Status.Parallel)
	assert.Equal(t, "run-abc123", back.Status.Parallel.RunID)
	assert.Equal(t, []string{"T1", "T2"}, back.Status.Parallel.ActiveWaveTaskIDs)
	assert.Equal(t, StatusFailed, back.Status.Parallel.ReservedStatusByTaskID["T2"])
}

func TestNullParallelIsAbsent(t *testing.T) {
	var st Status
	require.NoError(t, json.Unmarshal([]byte(`{"parallel": null}`), &st))
	assert.Nil(t, st.Parallel)
}

func TestCorruptWaveRecordFailsTheRead(t *testing.T) {
	wave := validWave()
	wave.RunID = "../escape"
	rec := map[string]any{"phase": "implement_task", "status": map[string]any{"parallel": wave}}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back Record
	err = json.Unmarshal(data, &back)
	require.Error(t, err)
	var werr *waveerrors.WaveError
	require.True(t, stderrors.As(err, &werr))
	assert.Equal(t, waveerrors.CodeInvalidIdentifier, werr.Code)
}

func TestActiveWaveValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ActiveWave)
		code   waveerrors.Code
	}{
		{"bad run id", func(w *ActiveWave) { w.RunID = "a/b" }, waveerrors.CodeInvalidIdentifier},
		{"bad wave id", func(w *ActiveWave) { w.ActiveWaveID = ".." }, waveerrors.CodeInvalidIdentifier},
		{"bad phase", func(w *ActiveWave) { w.ActiveWavePhase = "review" }, waveerrors.CodeWaveCorrupt},
		{"empty task list", func(w *ActiveWave) { w.ActiveWaveTaskIDs = nil }, waveerrors.CodeWaveCorrupt},
		{"duplicate task id", func(w *ActiveWave) { w.ActiveWaveTaskIDs = []string{"T1", "T1"} }, waveerrors.CodeWaveCorrupt},
		{"reserved key not active", func(w *ActiveWave) {
			delete(w.ReservedStatusByTaskID, "T2")
			w.ReservedStatusByTaskID["T9"] = StatusPending
		}, waveerrors.CodeWaveCorrupt},
		{"reserved key count mismatch", func(w *ActiveWave) {
			delete(w.ReservedStatusByTaskID, "T2")
		}, waveerrors.CodeWaveCorrupt},
		{"reserved status in_progress", func(w *ActiveWave) {
			w.ReservedStatusByTaskID["T1"] = StatusInProgress
		}, waveerrors.CodeWaveCorrupt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := validWave()
			tc.mutate(w)
			err := w.Validate()
			require.Error(t, err)
			var werr *waveerrors.WaveError
			require.True(t, stderrors.As(err, &werr))
			assert.Equal(t, tc.code, werr.Code)
		})
	}

	assert.NoError(t, validWave().Validate())
}

func TestActiveWaveContains(t *testing.T) {
	w := validWave()
	assert.True(t, w.Contains("T1"))
	assert.False(t, w.Contains("T3"))
}

func TestSortedReservedIDs(t *testing.T) {
	w := validWave()
	assert.Equal(t, []string{"T1", "T2"}, w.SortedReservedIDs())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("taskId", "T1"))
	assert.NoError(t, ValidateID("taskId", "task_2-b"))
	assert.Error(t, ValidateID("taskId", ""))
	assert.Error(t, ValidateID("taskId", ".."))
	assert.Error(t, ValidateID("taskId", "a/b"))
	assert.Error(t, ValidateID("taskId", "a\\b"))
	assert.Error(t, ValidateID("taskId", "a b"))
	assert.Error(t, ValidateID("taskId", "a\x00b"))
}
