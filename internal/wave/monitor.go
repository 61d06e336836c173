package wave

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/waverunner/internal/worker"
)

// Timeout types reported by the monitor.
const (
	TimeoutIteration  = "iteration"
	TimeoutInactivity = "inactivity"
)

// monitorCadence is how often the timeout monitor checks its bounds. Small
// relative to the shortest sensible timeout; not part of any contract.
const monitorCadence = 500 * time.Millisecond

// timeoutMonitor watches one wave. It may read worker handles and send
// signals, but never mutates outcomes; the engine owns those.
type timeoutMonitor struct {
	iteration  time.Duration
	inactivity time.Duration

	start        time.Time
	lastActivity atomic.Int64
	fired        atomic.Value
}

// newTimeoutMonitor creates a monitor from the configured bounds in
// seconds. Zero disables a bound.
func newTimeoutMonitor(iterationSec, inactivitySec int) *timeoutMonitor {
	m := &timeoutMonitor{
		iteration:  time.Duration(iterationSec) * time.Second,
		inactivity: time.Duration(inactivitySec) * time.Second,
		start:      time.Now(),
	}
	m.touch()
	return m
}

// touch records worker output activity. Wired as the supervisor's
// per-line callback.
func (m *timeoutMonitor) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// firedType returns "", "iteration" or "inactivity".
func (m *timeoutMonitor) firedType() string {
	v, _ := m.fired.Load().(string)
	return v
}

// watch polls the bounds until the context is cancelled or a bound fires.
// On fire, every still-live worker is marked timed out and its process
// group killed; workers that already exited keep their recorded status.
func (m *timeoutMonitor) watch(ctx context.Context, workers []*worker.Worker) {
	ticker := time.NewTicker(monitorCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kind := m.check()
			if kind == "" {
				continue
			}
			m.fired.Store(kind)
			for _, w := range workers {
				if !w.Alive() {
					continue
				}
				w.MarkTimedOut()
				w.Kill()
			}
			return
		}
	}
}

func (m *timeoutMonitor) check() string {
	now := time.Now()
	if m.iteration > 0 && now.Sub(m.start) >= m.iteration {
		return TimeoutIteration
	}
	if m.inactivity > 0 {
		last := time.Unix(0, m.lastActivity.Load())
		if now.Sub(last) >= m.inactivity {
			return TimeoutInactivity
		}
	}
	return ""
}
