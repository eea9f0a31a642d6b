package progress

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/siteforge/internal/types"
)

type jobLog struct {
	events     []types.StageEvent
	finishedAt time.Time
}

// Memory is a process-local Bridge. Pollers must be served by the process that
// runs the pipeline.
type Memory struct {
	mu   sync.RWMutex
	logs map[string]*jobLog
	now  func() time.Time
}

// NewMemory creates an empty in-memory bridge.
func NewMemory() *Memory {
	return &Memory{logs: make(map[string]*jobLog), now: time.Now}
}

// Push implements Bridge.
func (m *Memory) Push(_ context.Context, jobID string, event types.StageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.logs[jobID]
	if !ok {
		l = &jobLog{}
		m.logs[jobID] = l
	}
	l.events = append(l.events, event)
	if event.Stage.Terminal() && l.finishedAt.IsZero() {
		l.finishedAt = m.now()
	}
	return nil
}

// Read implements Bridge.
func (m *Memory) Read(_ context.Context, jobID string, after int) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.logs[jobID]
	if !ok {
		return pageAfter(nil, after), nil
	}
	return pageAfter(l.events, after), nil
}

// Cleanup implements Bridge.
func (m *Memory) Cleanup(_ context.Context, jobID string) error {
	m.mu.Lock()
	delete(m.logs, jobID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of job logs held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Sweep removes logs of jobs that finished more than retention ago and returns
// how many were removed. Logs of running jobs are kept.
func (m *Memory) Sweep(retention time.Duration) int {
	cutoff := m.now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, l := range m.logs {
		if !l.finishedAt.IsZero() && l.finishedAt.Before(cutoff) {
			delete(m.logs, id)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Sweep every interval until ctx is cancelled.
func (m *Memory) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(retention)
			}
		}
	}()
}
