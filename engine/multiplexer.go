// Package engine implements the deployment orchestration core: the log
// multiplexer, the per-deployment orchestrator state machine, and the
// process-wide deployment registry.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coxswain-cd/coxswain/domain"
)

// Multiplexer merges concurrent per-source log emissions into one strictly
// ordered, append-only sequence. Sequence numbers are assigned under a single
// lock together with the buffer append, so no two entries can share a number
// and no subscriber can observe a gap.
type Multiplexer struct {
	deploymentID uuid.UUID

	mu      sync.Mutex
	cond    *sync.Cond
	entries []domain.LogEntry
	seq     uint64
	closed  bool
}

func NewMultiplexer(deploymentID uuid.UUID) *Multiplexer {
	m := &Multiplexer{deploymentID: deploymentID}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Emit appends a log entry with the next sequence number and wakes all
// subscribers. It is safe for any number of concurrent callers. Emissions
// after Close are dropped.
func (m *Multiplexer) Emit(source string, kind domain.LogKind, text string) domain.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.LogEntry{}
	}
	m.seq++
	entry := domain.LogEntry{
		DeploymentID: m.deploymentID,
		Source:       source,
		Kind:         kind,
		Text:         text,
		Sequence:     m.seq,
		Timestamp:    time.Now(),
	}
	m.entries = append(m.entries, entry)
	m.cond.Broadcast()
	return entry
}

// Subscribe returns a channel that first replays every entry emitted so far,
// in sequence order, then delivers live entries as they are emitted, with no
// gap or duplicate at the join point. The channel is closed when ctx is
// cancelled or the multiplexer is closed and fully drained.
func (m *Multiplexer) Subscribe(ctx context.Context) <-chan domain.LogEntry {
	ch := make(chan domain.LogEntry, 64)

	// cond.Wait cannot observe ctx directly; wake the reader on cancellation.
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	}()

	go func() {
		defer close(ch)
		next := 0
		for {
			m.mu.Lock()
			for next >= len(m.entries) && !m.closed && ctx.Err() == nil {
				m.cond.Wait()
			}
			if ctx.Err() != nil || (next >= len(m.entries) && m.closed) {
				m.mu.Unlock()
				return
			}
			entry := m.entries[next]
			next++
			m.mu.Unlock()

			select {
			case ch <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// History returns a copy of all entries emitted so far.
func (m *Multiplexer) History() []domain.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]domain.LogEntry, len(m.entries))
	copy(history, m.entries)
	return history
}

// Close stops accepting emissions and lets subscribers drain and finish. It is
// idempotent.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}
