package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/executor"
)

// BuildChannelFactory produces the execution channel for a project's build
// phase (local shell by default, a container when build isolation is wanted).
type BuildChannelFactory func(project domain.Project) (executor.ExecutionChannel, error)

// Engine is the collaborator-facing entry point: it validates projects, spins
// up orchestrators, and resolves deployment IDs for status, cancellation and
// log subscription.
type Engine struct {
	registry *Registry
	opener   executor.Opener
	builds   BuildChannelFactory
	recorder DeploymentRecorder
	syncer   WorkspaceSyncer
	options  OrchestratorOptions

	ctx context.Context
}

func NewEngine(
	ctx context.Context,
	registry *Registry,
	opener executor.Opener,
	builds BuildChannelFactory,
	recorder DeploymentRecorder,
	syncer WorkspaceSyncer,
	options OrchestratorOptions,
) *Engine {
	return &Engine{
		registry: registry,
		opener:   opener,
		builds:   builds,
		recorder: recorder,
		syncer:   syncer,
		options:  options,
		ctx:      ctx,
	}
}

// Start validates the project, creates a deployment and launches its
// orchestrator. Invalid definitions are rejected synchronously, before any
// deployment exists.
func (e *Engine) Start(project domain.Project, policy domain.Policy) (uuid.UUID, error) {
	if err := project.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidProject, err)
	}

	buildChannel, err := e.builds(project)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to prepare build channel: %w", err)
	}

	deployment := domain.NewDeployment(project, policy)
	o := NewOrchestrator(deployment, buildChannel, e.opener, e.recorder, e.syncer, e.options)
	e.registry.Add(o)

	go func() {
		defer func() { _ = buildChannel.Close() }()
		o.Run(e.ctx)
	}()

	return deployment.ID, nil
}

// GetStatus returns a snapshot of a retained deployment.
func (e *Engine) GetStatus(id uuid.UUID) (domain.Deployment, error) {
	o, ok := e.registry.Get(id)
	if !ok {
		return domain.Deployment{}, ErrDeploymentNotFound
	}
	return o.Snapshot(), nil
}

// List returns snapshots of all retained deployments, newest first.
func (e *Engine) List() []domain.Deployment {
	return e.registry.List()
}

// Cancel requests cancellation of a deployment. Cancelling an already
// terminal deployment is a no-op, not an error.
func (e *Engine) Cancel(id uuid.UUID) error {
	o, ok := e.registry.Get(id)
	if !ok {
		return ErrDeploymentNotFound
	}
	o.Cancel()
	return nil
}

// Subscribe returns the deployment's ordered log stream: full replay first,
// then live entries.
func (e *Engine) Subscribe(ctx context.Context, id uuid.UUID) (<-chan domain.LogEntry, error) {
	o, ok := e.registry.Get(id)
	if !ok {
		return nil, ErrDeploymentNotFound
	}
	return o.Multiplexer().Subscribe(ctx), nil
}
