package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	// EventWorkerLine is one decoded line of a worker's stdout or stderr.
	EventWorkerLine Type = "worker_line"
	// EventWaveStarted fires when a wave begins executing a phase.
	EventWaveStarted Type = "wave_started"
	// EventWaveCompleted fires when a wave finishes a phase.
	EventWaveCompleted Type = "wave_completed"
	// EventWaveTimeout fires when the timeout monitor kills a wave.
	EventWaveTimeout Type = "wave_timeout"
	// EventMerge fires per branch merge attempt during integration.
	EventMerge Type = "merge"
)

// Event is a single orchestration event.
type Event struct {
	Type   Type           `json:"type"`
	TaskID string         `json:"task_id,omitempty"`
	WaveID string         `json:"wave_id,omitempty"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}
