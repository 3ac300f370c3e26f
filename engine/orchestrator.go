package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/executor"
)

// DeploymentRecorder persists a finished deployment. Recording failures are
// logged, never propagated; history is best effort.
type DeploymentRecorder interface {
	Record(deployment domain.Deployment, logTail []domain.LogEntry)
}

// WorkspaceSyncer brings a project's workspace up to date before the build
// phase and returns the checked-out commit.
type WorkspaceSyncer interface {
	Sync(project domain.Project) (string, error)
}

// OrchestratorOptions are the engine-level knobs for one deployment run.
// Zero values preserve the default semantics: no timeouts, unbounded
// deploy-phase concurrency.
type OrchestratorOptions struct {
	BuildTimeout         time.Duration
	DeployTimeout        time.Duration
	MaxConcurrentTargets int
}

// Orchestrator drives one deployment through its state machine: build phase,
// concurrent deploy fan-out, result aggregation, cancellation. It is the sole
// writer of its Deployment; all reads go through Snapshot.
type Orchestrator struct {
	mux     *Multiplexer
	build   executor.ExecutionChannel
	opener  executor.Opener
	rec     DeploymentRecorder
	syncer  WorkspaceSyncer
	options OrchestratorOptions

	mu              sync.RWMutex
	deployment      domain.Deployment
	cancelRequested bool

	cancelRun context.CancelFunc
	done      chan struct{}
}

func NewOrchestrator(
	deployment domain.Deployment,
	build executor.ExecutionChannel,
	opener executor.Opener,
	recorder DeploymentRecorder,
	syncer WorkspaceSyncer,
	options OrchestratorOptions,
) *Orchestrator {
	return &Orchestrator{
		mux:        NewMultiplexer(deployment.ID),
		build:      build,
		opener:     opener,
		rec:        recorder,
		syncer:     syncer,
		options:    options,
		deployment: deployment,
		done:       make(chan struct{}),
	}
}

// Multiplexer exposes the deployment's log stream for the transport layer.
func (o *Orchestrator) Multiplexer() *Multiplexer {
	return o.mux
}

// Snapshot returns a deep copy of the deployment for concurrent readers.
func (o *Orchestrator) Snapshot() domain.Deployment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deployment.Snapshot()
}

// Done is closed when the deployment reaches a terminal status.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Cancel requests cancellation. It transitions the deployment to cancelled
// only from pending or running; on an already-terminal deployment it is an
// idempotent no-op. Cancellation is asynchronous: in-flight execution channels
// are interrupted and the terminal status arrives through the log stream.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.deployment.Status.IsTerminal() || o.cancelRequested {
		o.mu.Unlock()
		return
	}
	o.cancelRequested = true
	cancel := o.cancelRun
	o.mu.Unlock()

	o.mux.Emit(domain.SourceDeployment, domain.LogKindLog, "cancellation requested")
	if cancel != nil {
		cancel()
	}
}

// Run executes the deployment to a terminal status. It must be called exactly
// once, on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancelRun = cancel
	cancelled := o.cancelRequested
	if !cancelled {
		now := time.Now()
		o.deployment.Status = domain.DeploymentStatusRunning
		o.deployment.StartedAt = &now
	}
	o.mu.Unlock()

	if cancelled {
		o.finish(domain.DeploymentStatusCancelled)
		return
	}

	slog.Info("Deployment started",
		"deployment_id", o.deployment.ID,
		"project_name", o.deployment.ProjectName,
		"policy", o.deployment.Policy.String(),
		"targets", len(o.deployment.Project.Targets))
	o.mux.Emit(domain.SourceDeployment, domain.LogKindLog,
		fmt.Sprintf("deployment of %s started (%d targets, %s)",
			o.deployment.ProjectName, len(o.deployment.Project.Targets), o.deployment.Policy))

	if !o.runBuild(runCtx) {
		o.finish(o.statusAfterFailure())
		return
	}

	o.runDeploy(runCtx)
	o.finish(o.finalStatus())
}

// runBuild executes the build phase. It returns false when the deploy phase
// must not be entered.
func (o *Orchestrator) runBuild(ctx context.Context) bool {
	project := o.deployment.Project

	if o.syncer != nil && project.GitURL != "" {
		o.mux.Emit(domain.SourceBuild, domain.LogKindLog, "syncing repository "+project.GitURL)
		commit, err := o.syncer.Sync(project)
		if err != nil {
			o.mux.Emit(domain.SourceBuild, domain.LogKindError, "repository sync failed: "+err.Error())
			return false
		}
		o.mux.Emit(domain.SourceBuild, domain.LogKindLog, "checked out "+commit)
	}

	buildCtx := ctx
	if o.options.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, o.options.BuildTimeout)
		defer cancel()
	}

	exitCode, err := o.runCommand(buildCtx, o.build, project.BuildCommand, domain.SourceBuild)
	switch {
	case err != nil:
		o.mux.Emit(domain.SourceBuild, domain.LogKindError, "build failed: "+err.Error())
		return false
	case exitCode != 0:
		o.mux.Emit(domain.SourceBuild, domain.LogKindError, fmt.Sprintf("build failed with exit code %d", exitCode))
		return false
	}
	o.mux.Emit(domain.SourceBuild, domain.LogKindStatus, "build succeeded")
	return true
}

type targetOutcome struct {
	name   string
	result domain.TargetResult
}

// runDeploy fans the deploy command out across all targets concurrently and
// aggregates their terminal results. Under fail-fast, the first failure stops
// scheduling: in-flight targets are interrupted and unstarted ones end as
// skipped.
func (o *Orchestrator) runDeploy(ctx context.Context) {
	deployCtx, cancelDeploy := context.WithCancel(ctx)
	defer cancelDeploy()

	targets := o.deployment.Project.Targets
	results := make(chan targetOutcome)

	var sem chan struct{}
	if o.options.MaxConcurrentTargets > 0 {
		sem = make(chan struct{}, o.options.MaxConcurrentTargets)
	}

	for _, target := range targets {
		go func(target domain.ServerTarget) {
			results <- targetOutcome{name: target.Name, result: o.runTargetGuarded(deployCtx, sem, target)}
		}(target)
	}

	for range targets {
		outcome := <-results
		o.recordTarget(outcome.name, outcome.result)
		if outcome.result.Status == domain.TargetStatusFailed && o.deployment.Policy == domain.PolicyFailFast {
			cancelDeploy()
		}
	}
}

// runTargetGuarded converts panics inside a target's execution into that
// target's failure result so one target can never crash the orchestrator or
// its siblings.
func (o *Orchestrator) runTargetGuarded(ctx context.Context, sem chan struct{}, target domain.ServerTarget) (result domain.TargetResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Target execution panicked",
				"layer", "orchestrator",
				"operation", "deploy_target",
				"deployment_id", o.deployment.ID,
				"target", target.Name,
				"panic", r)
			result = domain.TargetResult{
				Status:  domain.TargetStatusFailed,
				Message: fmt.Sprintf("internal fault: %v", r),
			}
			o.mux.Emit(target.Name, domain.LogKindError, result.Message)
		}
	}()

	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return domain.TargetResult{Status: domain.TargetStatusSkipped}
		}
	}

	// A cancelled phase means this target never starts.
	if ctx.Err() != nil {
		return domain.TargetResult{Status: domain.TargetStatusSkipped}
	}

	return o.runTarget(ctx, target)
}

func (o *Orchestrator) runTarget(ctx context.Context, target domain.ServerTarget) domain.TargetResult {
	start := time.Now()

	targetCtx := ctx
	if o.options.DeployTimeout > 0 {
		var cancel context.CancelFunc
		targetCtx, cancel = context.WithTimeout(ctx, o.options.DeployTimeout)
		defer cancel()
	}

	channel, err := o.opener.Open(targetCtx, target)
	if err != nil {
		// An unreachable host is an execution error like any other: recorded,
		// never propagated.
		o.mux.Emit(target.Name, domain.LogKindError, err.Error())
		return domain.TargetResult{
			Status:   domain.TargetStatusFailed,
			ExitCode: -1,
			Duration: time.Since(start),
			Message:  err.Error(),
		}
	}
	defer func() {
		if closeErr := channel.Close(); closeErr != nil {
			slog.Debug("Failed to close execution channel", "target", target.Name, "error", closeErr)
		}
	}()

	exitCode, err := o.runCommand(targetCtx, channel, o.deployment.Project.DeployCommand, target.Name)
	duration := time.Since(start)
	if err != nil {
		o.mux.Emit(target.Name, domain.LogKindError, err.Error())
		return domain.TargetResult{
			Status:   domain.TargetStatusFailed,
			ExitCode: -1,
			Duration: duration,
			Message:  err.Error(),
		}
	}
	if exitCode != 0 {
		return domain.TargetResult{
			Status:   domain.TargetStatusFailed,
			ExitCode: exitCode,
			Duration: duration,
			Message:  fmt.Sprintf("deploy command exited with code %d", exitCode),
		}
	}
	return domain.TargetResult{
		Status:   domain.TargetStatusSuccess,
		Duration: duration,
	}
}

// runCommand executes one command on a channel, forwarding its output into
// the multiplexer tagged with source. The forwarding goroutine only ever
// blocks on the multiplexer lock, so a hung command never wedges emission.
func (o *Orchestrator) runCommand(ctx context.Context, channel executor.ExecutionChannel, command, source string) (int, error) {
	lines := make(chan executor.OutputLine, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for line := range lines {
			kind := domain.LogKindLog
			if line.Stderr {
				kind = domain.LogKindError
			}
			o.mux.Emit(source, kind, line.Text)
		}
	}()

	exitCode, err := channel.Run(ctx, command, lines)
	close(lines)
	<-drained
	return exitCode, err
}

// recordTarget writes a target's terminal result exactly once and emits its
// status entry. Only the orchestrator goroutine calls it.
func (o *Orchestrator) recordTarget(name string, result domain.TargetResult) {
	o.mu.Lock()
	if _, exists := o.deployment.TargetResults[name]; exists {
		o.mu.Unlock()
		return
	}
	o.deployment.TargetResults[name] = result
	o.mu.Unlock()

	text := result.Status.String()
	if result.Status == domain.TargetStatusFailed {
		text = fmt.Sprintf("failed (exit %d)", result.ExitCode)
	}
	o.mux.Emit(name, domain.LogKindStatus, text)

	slog.Info("Target completed",
		"deployment_id", o.deployment.ID,
		"target", name,
		"status", result.Status.String(),
		"exit_code", result.ExitCode,
		"duration", result.Duration)
}

// statusAfterFailure distinguishes a genuine failure from one induced by a
// cancel request interrupting the running phase.
func (o *Orchestrator) statusAfterFailure() domain.DeploymentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cancelRequested {
		return domain.DeploymentStatusCancelled
	}
	return domain.DeploymentStatusFailed
}

func (o *Orchestrator) finalStatus() domain.DeploymentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cancelRequested {
		return domain.DeploymentStatusCancelled
	}
	for _, result := range o.deployment.TargetResults {
		if result.Status != domain.TargetStatusSuccess {
			return domain.DeploymentStatusFailed
		}
	}
	return domain.DeploymentStatusSuccess
}

// finish transitions the deployment to its terminal status, emits the final
// status entry, and records history. Status transitions are monotonic: a
// terminal status is never overwritten.
func (o *Orchestrator) finish(status domain.DeploymentStatus) {
	o.mu.Lock()
	if o.deployment.Status.IsTerminal() {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	o.deployment.Status = status
	o.deployment.CompletedAt = &now
	snapshot := o.deployment.Snapshot()
	o.mu.Unlock()

	o.mux.Emit(domain.SourceDeployment, domain.LogKindStatus, status.String())
	close(o.done)

	slog.Info("Deployment finished",
		"deployment_id", snapshot.ID,
		"project_name", snapshot.ProjectName,
		"status", status.String(),
		"failed_targets", snapshot.FailedTargets())

	if o.rec != nil {
		o.rec.Record(snapshot, o.mux.History())
	}
}
