package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/executor"
)

func TestOrchestrator_AllTargetsSucceed(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{lines: []executor.OutputLine{{Text: "deployed"}}}
	opener.channels["web-2"] = &fakeChannel{}

	o := newTestOrchestrator(testProject("web-1", "web-2"), domain.PolicyBestEffort,
		&fakeChannel{lines: []executor.OutputLine{{Text: "compiling"}}}, opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)

	assert.Equal(t, domain.DeploymentStatusSuccess, snapshot.Status)
	require.Len(t, snapshot.TargetResults, 2)
	assert.Equal(t, domain.TargetStatusSuccess, snapshot.TargetResults["web-1"].Status)
	assert.Equal(t, domain.TargetStatusSuccess, snapshot.TargetResults["web-2"].Status)
	require.NotNil(t, snapshot.StartedAt)
	require.NotNil(t, snapshot.CompletedAt)
}

func TestOrchestrator_BestEffort_OneTargetFails(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{}
	opener.channels["web-2"] = &fakeChannel{exitCode: 1}
	opener.channels["web-3"] = &fakeChannel{}

	o := newTestOrchestrator(testProject("web-1", "web-2", "web-3"), domain.PolicyBestEffort,
		&fakeChannel{}, opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)

	// Every target is attempted; one failure fails the deployment.
	assert.Equal(t, domain.DeploymentStatusFailed, snapshot.Status)
	assert.Equal(t, domain.TargetStatusSuccess, snapshot.TargetResults["web-1"].Status)
	assert.Equal(t, domain.TargetStatusFailed, snapshot.TargetResults["web-2"].Status)
	assert.Equal(t, 1, snapshot.TargetResults["web-2"].ExitCode)
	assert.Equal(t, domain.TargetStatusSuccess, snapshot.TargetResults["web-3"].Status)
	assert.Len(t, opener.openedTargets(), 3)
}

func TestOrchestrator_BuildFails_DeployNeverRuns(t *testing.T) {
	opener := newFakeOpener()

	o := newTestOrchestrator(testProject("web-1", "web-2"), domain.PolicyBestEffort,
		&fakeChannel{exitCode: 2, lines: []executor.OutputLine{{Text: "error: no rule", Stderr: true}}},
		opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)

	assert.Equal(t, domain.DeploymentStatusFailed, snapshot.Status)
	assert.Empty(t, snapshot.TargetResults)
	assert.Empty(t, opener.openedTargets())
}

func TestOrchestrator_BuildError_DeployNeverRuns(t *testing.T) {
	opener := newFakeOpener()

	o := newTestOrchestrator(testProject("web-1"), domain.PolicyBestEffort,
		&fakeChannel{runErr: errors.New("sh: not found")}, opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)

	assert.Equal(t, domain.DeploymentStatusFailed, snapshot.Status)
	assert.Empty(t, snapshot.TargetResults)
	assert.Empty(t, opener.openedTargets())
}

func TestOrchestrator_FailFast_UnstartedTargetsSkipped(t *testing.T) {
	opener := newFakeOpener()
	for _, name := range []string{"web-1", "web-2", "web-3", "web-4"} {
		opener.channels[name] = &fakeChannel{exitCode: 1}
	}

	// Serial execution: the first target to run fails, so every remaining
	// target must end skipped and never open a channel.
	o := newTestOrchestrator(testProject("web-1", "web-2", "web-3", "web-4"), domain.PolicyFailFast,
		&fakeChannel{}, opener, OrchestratorOptions{MaxConcurrentTargets: 1})
	snapshot := runToCompletion(t, o)

	assert.Equal(t, domain.DeploymentStatusFailed, snapshot.Status)
	require.Len(t, snapshot.TargetResults, 4)

	failed, skipped := 0, 0
	for _, result := range snapshot.TargetResults {
		switch result.Status {
		case domain.TargetStatusFailed:
			failed++
		case domain.TargetStatusSkipped:
			skipped++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, skipped)
	assert.Len(t, opener.openedTargets(), 1)
}

func TestOrchestrator_OpenFailure_RecordedAsTargetFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{}
	opener.openErrs["web-2"] = errors.New("dial tcp: connection refused")

	o := newTestOrchestrator(testProject("web-1", "web-2"), domain.PolicyBestEffort,
		&fakeChannel{}, opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)

	assert.Equal(t, domain.DeploymentStatusFailed, snapshot.Status)
	assert.Equal(t, domain.TargetStatusSuccess, snapshot.TargetResults["web-1"].Status)
	result := snapshot.TargetResults["web-2"]
	assert.Equal(t, domain.TargetStatusFailed, result.Status)
	assert.Contains(t, result.Message, "connection refused")
}

func TestOrchestrator_TargetPanic_ConvertedToFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{}
	opener.channels["web-2"] = &fakeChannel{panicMsg: "index out of range"}

	o := newTestOrchestrator(testProject("web-1", "web-2"), domain.PolicyBestEffort,
		&fakeChannel{}, opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)

	// The panic is contained: the sibling target completes and the
	// orchestrator reaches a terminal status.
	assert.Equal(t, domain.DeploymentStatusFailed, snapshot.Status)
	assert.Equal(t, domain.TargetStatusSuccess, snapshot.TargetResults["web-1"].Status)
	result := snapshot.TargetResults["web-2"]
	assert.Equal(t, domain.TargetStatusFailed, result.Status)
	assert.Contains(t, result.Message, "internal fault")
}

func TestOrchestrator_Cancel_InterruptsInFlightAndSkipsUnstarted(t *testing.T) {
	opener := newFakeOpener()
	for _, name := range []string{"web-1", "web-2", "web-3", "web-4"} {
		opener.channels[name] = &fakeChannel{block: true}
	}

	o := newTestOrchestrator(testProject("web-1", "web-2", "web-3", "web-4"), domain.PolicyBestEffort,
		&fakeChannel{}, opener, OrchestratorOptions{MaxConcurrentTargets: 2})
	go o.Run(context.Background())

	// Two targets running, two queued behind the semaphore.
	opener.waitOpened(t, 2)
	o.Cancel()

	select {
	case <-o.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled deployment did not reach a terminal status")
	}

	snapshot := o.Snapshot()
	assert.Equal(t, domain.DeploymentStatusCancelled, snapshot.Status)
	require.Len(t, snapshot.TargetResults, 4)

	interrupted, skipped := 0, 0
	for _, result := range snapshot.TargetResults {
		switch result.Status {
		case domain.TargetStatusFailed:
			interrupted++
		case domain.TargetStatusSkipped:
			skipped++
		}
	}
	assert.Equal(t, 2, interrupted)
	assert.Equal(t, 2, skipped)
}

func TestOrchestrator_Cancel_DuringBuild(t *testing.T) {
	opener := newFakeOpener()

	o := newTestOrchestrator(testProject("web-1"), domain.PolicyBestEffort,
		&fakeChannel{block: true}, opener, OrchestratorOptions{})
	go o.Run(context.Background())

	require.Eventually(t, func() bool {
		return o.Snapshot().Status == domain.DeploymentStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	o.Cancel()

	select {
	case <-o.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled deployment did not reach a terminal status")
	}
	snapshot := o.Snapshot()
	assert.Equal(t, domain.DeploymentStatusCancelled, snapshot.Status)
	assert.Empty(t, snapshot.TargetResults)
	assert.Empty(t, opener.openedTargets())
}

func TestOrchestrator_Cancel_AlreadyTerminal_NoOp(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{}

	o := newTestOrchestrator(testProject("web-1"), domain.PolicyBestEffort,
		&fakeChannel{}, opener, OrchestratorOptions{})
	snapshot := runToCompletion(t, o)
	require.Equal(t, domain.DeploymentStatusSuccess, snapshot.Status)

	historyLen := len(o.Multiplexer().History())
	o.Cancel()
	o.Cancel()

	assert.Equal(t, domain.DeploymentStatusSuccess, o.Snapshot().Status)
	assert.Len(t, o.Multiplexer().History(), historyLen)
}

func TestOrchestrator_FinalStatusEntryEmittedLast(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{lines: []executor.OutputLine{{Text: "restarting service"}}}

	o := newTestOrchestrator(testProject("web-1"), domain.PolicyBestEffort,
		&fakeChannel{lines: []executor.OutputLine{{Text: "built"}}}, opener, OrchestratorOptions{})
	runToCompletion(t, o)

	history := o.Multiplexer().History()
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, domain.LogKindStatus, last.Kind)
	assert.Equal(t, domain.SourceDeployment, last.Source)
	assert.Equal(t, "success", last.Text)

	// Build output carries the build source.
	var buildLines int
	for _, entry := range history {
		if entry.Source == domain.SourceBuild && entry.Text == "built" {
			buildLines++
		}
	}
	assert.Equal(t, 1, buildLines)
}

func TestOrchestrator_TargetResultsWriteOnce(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{}

	o := newTestOrchestrator(testProject("web-1"), domain.PolicyBestEffort,
		&fakeChannel{}, opener, OrchestratorOptions{})
	runToCompletion(t, o)

	before := o.Snapshot().TargetResults["web-1"]
	o.recordTarget("web-1", domain.TargetResult{Status: domain.TargetStatusFailed})
	assert.Equal(t, before, o.Snapshot().TargetResults["web-1"])
}

func TestOrchestrator_RecorderReceivesTerminalSnapshot(t *testing.T) {
	opener := newFakeOpener()
	opener.channels["web-1"] = &fakeChannel{}

	recorder := &fakeRecorder{}
	deployment := domain.NewDeployment(testProject("web-1"), domain.PolicyBestEffort)
	o := NewOrchestrator(deployment, &fakeChannel{}, opener, recorder, nil, OrchestratorOptions{})
	runToCompletion(t, o)

	recorded := recorder.recorded()
	require.NotNil(t, recorded)
	assert.Equal(t, domain.DeploymentStatusSuccess, recorded.Status)
	assert.NotNil(t, recorded.CompletedAt)
}
