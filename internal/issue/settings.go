package issue

import (
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

// Execution modes for settings.taskExecution.mode.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// MaxParallelCap is the hard concurrency cap, irrespective of configuration.
const MaxParallelCap = 8

// TaskExecution is the lenient view of settings.taskExecution. Malformed
// values never fail a run; they clamp to safe defaults.
type TaskExecution struct {
	Mode                 string
	MaxParallelTasks     int
	IterationTimeoutSec  int
	InactivityTimeoutSec int
}

// EffectiveMaxParallel returns the worker cap for a wave: 1 in sequential
// mode, the clamped configured value otherwise.
func (e TaskExecution) EffectiveMaxParallel() int {
	if e.Mode == ModeSequential {
		return 1
	}
	return e.MaxParallelTasks
}

// TaskExecution parses settings.taskExecution out of the record's raw
// settings. Missing or malformed settings yield the defaults
// (parallel mode, one worker, no timeouts).
func (r *Record) TaskExecution() TaskExecution {
	te := TaskExecution{Mode: ModeParallel, MaxParallelTasks: 1}
	if len(r.Settings) == 0 {
		return te
	}
	root := gjson.GetBytes(r.Settings, "taskExecution")
	if mode := root.Get("mode").String(); mode == ModeSequential {
		te.Mode = ModeSequential
	}
	te.MaxParallelTasks = ClampMaxParallel(root.Get("maxParallelTasks"))
	te.IterationTimeoutSec = nonNegativeInt(root.Get("iterationTimeoutSec"))
	te.InactivityTimeoutSec = nonNegativeInt(root.Get("inactivityTimeoutSec"))
	return te
}

// ClampMaxParallel maps a configured maxParallelTasks value into [1, 8].
// Integers clamp at both ends; numeric strings are parsed; everything else
// (non-integer, null, missing, non-numeric) falls back to 1.
func ClampMaxParallel(v gjson.Result) int {
	switch v.Type {
	case gjson.Number:
		f := v.Num
		if f != math.Trunc(f) {
			return 1
		}
		return clampInt(int(f))
	case gjson.String:
		n, err := strconv.Atoi(v.Str)
		if err != nil {
			return 1
		}
		return clampInt(n)
	default:
		return 1
	}
}

func clampInt(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxParallelCap {
		return MaxParallelCap
	}
	return n
}

func nonNegativeInt(v gjson.Result) int {
	if v.Type != gjson.Number {
		return 0
	}
	f := v.Num
	if f != math.Trunc(f) || f < 0 {
		return 0
	}
	return int(f)
}
