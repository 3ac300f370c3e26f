package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coxswain-cd/coxswain/domain"
)

// Registry is the process-wide table of in-flight and recently completed
// deployments. A background sweep evicts deployments a retention window after
// completion to bound memory; eviction closes the deployment's log stream with
// a terminal notice so attached subscribers see a clean "gone" instead of a
// silent disconnect.
type Registry struct {
	retention time.Duration
	sweepTick time.Duration

	mu          sync.RWMutex
	deployments map[uuid.UUID]*Orchestrator
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Registry{
		retention:   retention,
		sweepTick:   retention / 10,
		deployments: make(map[uuid.UUID]*Orchestrator),
	}
}

// Add registers a new deployment's orchestrator.
func (r *Registry) Add(o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[o.Snapshot().ID] = o
}

// Get looks up a deployment's orchestrator by ID.
func (r *Registry) Get(id uuid.UUID) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.deployments[id]
	return o, ok
}

// List returns snapshots of all retained deployments, newest first.
func (r *Registry) List() []domain.Deployment {
	r.mu.RLock()
	orchestrators := make([]*Orchestrator, 0, len(r.deployments))
	for _, o := range r.deployments {
		orchestrators = append(orchestrators, o)
	}
	r.mu.RUnlock()

	snapshots := make([]domain.Deployment, 0, len(orchestrators))
	for _, o := range orchestrators {
		snapshots = append(snapshots, o.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Start runs the eviction sweep until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	slog.Info("Deployment registry sweep starting",
		"retention", r.retention,
		"interval", r.sweepTick)

	ticker := time.NewTicker(r.sweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Deployment registry sweep shutting down")
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep evicts deployments whose completion is older than the retention
// window. Exported so tests can drive eviction without the ticker.
func (r *Registry) Sweep(now time.Time) {
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	var evicted []*Orchestrator
	for id, o := range r.deployments {
		snapshot := o.Snapshot()
		if snapshot.CompletedAt != nil && snapshot.CompletedAt.Before(cutoff) {
			delete(r.deployments, id)
			evicted = append(evicted, o)
		}
	}
	r.mu.Unlock()

	for _, o := range evicted {
		mux := o.Multiplexer()
		mux.Emit(domain.SourceDeployment, domain.LogKindError, "deployment evicted from registry")
		mux.Close()
		slog.Debug("Deployment evicted",
			"deployment_id", o.Snapshot().ID,
			"retention", r.retention)
	}
}
