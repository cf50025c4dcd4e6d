package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"veilleur/internal/broker"
	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/runlock"
)

// Manager serializes pipeline runs behind the run lock and keeps the state
// the admin surface reports: current status, last summary, event log.
type Manager struct {
	pipeline *Pipeline
	locker   runlock.Locker

	mu      sync.Mutex
	running bool
	runID   string
	cancel  context.CancelFunc
	done    chan struct{}
	status  core.RunStatus
	last    core.RunSummary
	hasLast bool
}

// NewManager wraps a pipeline. A nil locker falls back to the process-local
// lock, which is what simulation and tests want.
func NewManager(p *Pipeline, locker runlock.Locker) *Manager {
	if locker == nil {
		locker = &runlock.LocalLock{}
	}
	return &Manager{pipeline: p, locker: locker, status: core.RunIdle}
}

// Start launches a run in the background and returns its id. A second Start
// while a run is in flight fails with runlock.ErrPipelineBusy.
func (m *Manager) Start(opts RunOptions) (string, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return "", runlock.ErrPipelineBusy
	}

	lease, err := m.locker.Acquire(context.Background())
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	runID := uuid.NewString()
	opts.RunID = runID
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.running = true
	m.runID = runID
	m.cancel = cancel
	m.done = done
	m.status = core.RunRunning
	m.mu.Unlock()

	go func() {
		defer close(done)
		summary := m.pipeline.Run(ctx, opts)
		cancel()

		m.mu.Lock()
		m.last = summary
		m.hasLast = true
		m.status = summary.Status
		m.running = false
		m.cancel = nil
		m.mu.Unlock()

		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("Run lock release failed", "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

// Stop cancels the in-flight run. Returns false when nothing is running.
// The run winds down asynchronously; its summary lands once it is done.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Wait blocks until the current run finishes. No-op when idle.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status is the manager's snapshot for the admin surface.
type Status struct {
	Running bool             `json:"running"`
	RunID   string           `json:"run_id,omitempty"`
	Status  core.RunStatus   `json:"status"`
	Last    *core.RunSummary `json:"last_run,omitempty"`
}

// Status reports the current state and the last finished run, when any.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Running: m.running, Status: m.status}
	if m.running {
		st.RunID = m.runID
	}
	if m.hasLast {
		last := m.last
		st.Last = &last
	}
	return st
}

// Logs returns a page of the current run's log events, oldest first. limit
// defaults to 100; offset skips from the start of the retained window.
func (m *Manager) Logs(limit, offset int) []broker.Event {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var logs []broker.Event
	for _, ev := range m.pipeline.Events().Snapshot() {
		if ev.Type == broker.EventLog || ev.Type == broker.EventError {
			logs = append(logs, ev)
		}
	}
	if offset >= len(logs) {
		return nil
	}
	end := offset + limit
	if end > len(logs) {
		end = len(logs)
	}
	return logs[offset:end]
}

// Events exposes the broker for live subscriptions.
func (m *Manager) Events() *broker.Broker { return m.pipeline.Events() }
