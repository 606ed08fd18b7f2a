package service

import (
	"context"
	"sync"
	"time"
)

// HealthMonitor is a deliberate redundancy layer over the event-driven
// path: store change notifications can be lost or delayed, so on a fixed
// interval the session cross-checks its link state against the record. Its
// actions run through the same idempotent session transitions, so both
// paths may fire and only the first has effect.
type HealthMonitor struct {
	session  *CallSession
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func NewHealthMonitor(session *CallSession, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{session: session, interval: interval}
}

// Start begins periodic checks. Idempotent while running.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	go m.run(m.stop)
}

// Stop cancels the periodic checks. Idempotent.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop == nil {
		return
	}
	close(m.stop)
	m.stop = nil
}

func (m *HealthMonitor) run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.session.healthTick(context.Background())
		}
	}
}
