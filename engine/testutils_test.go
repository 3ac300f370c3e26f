package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/executor"
)

// fakeChannel is a scripted execution channel.
type fakeChannel struct {
	lines    []executor.OutputLine
	exitCode int
	runErr   error
	panicMsg string // when set, Run panics after emitting lines
	block    bool   // when set, Run blocks until ctx is cancelled
}

func (c *fakeChannel) Run(ctx context.Context, command string, out chan<- executor.OutputLine) (int, error) {
	for _, line := range c.lines {
		select {
		case out <- line:
		case <-ctx.Done():
			return -1, fmt.Errorf("command interrupted: %w", ctx.Err())
		}
	}
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.block {
		<-ctx.Done()
		return -1, fmt.Errorf("command interrupted: %w", ctx.Err())
	}
	return c.exitCode, c.runErr
}

func (c *fakeChannel) Close() error { return nil }

// fakeOpener hands out per-target scripted channels and tracks which targets
// actually opened a channel.
type fakeOpener struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	openErrs map[string]error
	opened   []string
	openedCh chan string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		channels: make(map[string]*fakeChannel),
		openErrs: make(map[string]error),
		openedCh: make(chan string, 64),
	}
}

func (o *fakeOpener) Open(ctx context.Context, target domain.ServerTarget) (executor.ExecutionChannel, error) {
	o.mu.Lock()
	err := o.openErrs[target.Name]
	channel := o.channels[target.Name]
	if err == nil {
		o.opened = append(o.opened, target.Name)
	}
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	o.openedCh <- target.Name
	if channel == nil {
		channel = &fakeChannel{}
	}
	return channel, nil
}

func (o *fakeOpener) openedTargets() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// waitOpened blocks until n targets have opened channels.
func (o *fakeOpener) waitOpened(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-o.openedCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %d channel opens", n)
		}
	}
}

// fakeRecorder captures the Record call for assertions.
type fakeRecorder struct {
	mu         sync.Mutex
	deployment *domain.Deployment
	logTail    []domain.LogEntry
}

func (r *fakeRecorder) Record(deployment domain.Deployment, logTail []domain.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployment = &deployment
	r.logTail = logTail
}

func (r *fakeRecorder) recorded() *domain.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deployment
}

func testProject(targetNames ...string) domain.Project {
	targets := make([]domain.ServerTarget, len(targetNames))
	for i, name := range targetNames {
		targets[i] = domain.NewServerTarget(name, name+".example.com", 22, "deploy")
		targets[i].Password = "secret"
	}
	return domain.NewProject("test-app", "make build", "make deploy", targets)
}

func newTestOrchestrator(
	project domain.Project,
	policy domain.Policy,
	build *fakeChannel,
	opener *fakeOpener,
	options OrchestratorOptions,
) *Orchestrator {
	deployment := domain.NewDeployment(project, policy)
	return NewOrchestrator(deployment, build, opener, nil, nil, options)
}

// runToCompletion runs the orchestrator and waits for its terminal status.
func runToCompletion(t *testing.T, o *Orchestrator) domain.Deployment {
	t.Helper()
	go o.Run(context.Background())
	select {
	case <-o.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("orchestrator did not reach a terminal status")
	}
	return o.Snapshot()
}

// collectEntries drains n entries from a subscription.
func collectEntries(t *testing.T, ch <-chan domain.LogEntry, n int) []domain.LogEntry {
	t.Helper()
	entries := make([]domain.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		select {
		case entry, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed after %d of %d entries", i, n)
			}
			entries = append(entries, entry)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d entries", i, n)
		}
	}
	return entries
}
