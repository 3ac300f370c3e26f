package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/coxswain-cd/coxswain/db"
	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/encryption"
	"github.com/coxswain-cd/coxswain/engine"
	"github.com/coxswain-cd/coxswain/executor"
	"github.com/coxswain-cd/coxswain/repository"
)

// fakeChannel scripts one command execution.
type fakeChannel struct {
	lines    []string
	exitCode int
	block    bool
}

func (c *fakeChannel) Run(ctx context.Context, _ string, out chan<- executor.OutputLine) (int, error) {
	for _, line := range c.lines {
		select {
		case out <- executor.OutputLine{Text: line}:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	if c.block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return c.exitCode, nil
}

func (c *fakeChannel) Close() error { return nil }

type fakeOpener struct {
	block bool
}

func (o *fakeOpener) Open(_ context.Context, target domain.ServerTarget) (executor.ExecutionChannel, error) {
	return &fakeChannel{lines: []string{"deploying to " + target.Name}, block: o.block}, nil
}

type testHarness struct {
	server   *httptest.Server
	engine   *engine.Engine
	registry *engine.Registry
	projects repository.ProjectRepository
	project  *domain.Project
}

func setupHarness(t *testing.T, opener executor.Opener) *testHarness {
	t.Helper()

	database, err := db.InitDatabase(db.DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	enc, err := encryption.NewService(key)
	require.NoError(t, err)

	servers := repository.NewServerRepository(database, enc)
	projects := repository.NewProjectRepository(database, enc)
	records := repository.NewDeploymentRecordRepository(database)

	web1 := domain.NewServerTarget("web-1", "web-1.internal", 22, "deploy")
	web1.Password = "hunter2"
	_, err = servers.Create(&web1)
	require.NoError(t, err)

	project := domain.NewProject("web-app", "make build", "make deploy", []domain.ServerTarget{web1})
	stored, err := projects.Create(&project)
	require.NoError(t, err)

	registry := engine.NewRegistry(time.Minute)
	builds := func(domain.Project) (executor.ExecutionChannel, error) {
		return &fakeChannel{lines: []string{"compiling"}}, nil
	}
	eng := engine.NewEngine(
		context.Background(),
		registry,
		opener,
		builds,
		repository.NewRecorder(records),
		nil,
		engine.OrchestratorOptions{},
	)

	srv := NewServer(eng, projects, records)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testHarness{
		server:   ts,
		engine:   eng,
		registry: registry,
		projects: projects,
		project:  stored,
	}
}

func startDeployment(t *testing.T, h *testHarness, body string) uuid.UUID {
	t.Helper()
	resp, err := http.Post(
		h.server.URL+"/api/projects/"+h.project.ID.String()+"/deploy",
		"application/json",
		bytes.NewBufferString(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	id, err := uuid.Parse(payload["deployment_id"])
	require.NoError(t, err)
	return id
}

func waitTerminal(t *testing.T, h *testHarness, id uuid.UUID) domain.Deployment {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		deployment, err := h.engine.GetStatus(id)
		require.NoError(t, err)
		if deployment.Status.IsTerminal() {
			return deployment
		}
		select {
		case <-deadline:
			t.Fatalf("deployment %s did not finish", id)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHealth(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeploy_StartsDeployment(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	id := startDeployment(t, h, "")
	deployment := waitTerminal(t, h, id)

	assert.Equal(t, domain.DeploymentStatusSuccess, deployment.Status)
	assert.Equal(t, domain.PolicyBestEffort, deployment.Policy)
}

func TestDeploy_FailFastPolicy(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	id := startDeployment(t, h, `{"policy":"fail_fast"}`)
	deployment := waitTerminal(t, h, id)

	assert.Equal(t, domain.PolicyFailFast, deployment.Policy)
}

func TestDeploy_InvalidPolicy(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	resp, err := http.Post(
		h.server.URL+"/api/projects/"+h.project.ID.String()+"/deploy",
		"application/json",
		bytes.NewBufferString(`{"policy":"yolo"}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeploy_UnknownProject(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	resp, err := http.Post(
		h.server.URL+"/api/projects/"+uuid.NewString()+"/deploy",
		"application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetDeployment_LiveSnapshot(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	id := startDeployment(t, h, "")
	waitTerminal(t, h, id)

	resp, err := http.Get(h.server.URL + "/api/deployments/" + id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view deploymentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, "web-app", view.ProjectName)
	assert.Equal(t, "success", view.Status)
	require.Contains(t, view.TargetResults, "web-1")
	assert.Equal(t, "success", view.TargetResults["web-1"].Status)
}

func TestGetDeployment_FallsBackToHistoryAfterEviction(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	id := startDeployment(t, h, "")
	waitTerminal(t, h, id)

	// Force eviction; the record repository becomes the only source.
	h.registry.Sweep(time.Now().Add(time.Hour))

	resp, err := http.Get(h.server.URL + "/api/deployments/" + id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view deploymentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, "success", view.Status)
}

func TestGetDeployment_NotFound(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	resp, err := http.Get(h.server.URL + "/api/deployments/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDeployments(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	first := startDeployment(t, h, "")
	waitTerminal(t, h, first)
	second := startDeployment(t, h, "")
	waitTerminal(t, h, second)

	resp, err := http.Get(h.server.URL + "/api/deployments")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Deployments []deploymentView `json:"deployments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Len(t, payload.Deployments, 2)
}

func TestCancelDeployment(t *testing.T) {
	h := setupHarness(t, &fakeOpener{block: true})

	id := startDeployment(t, h, "")

	// Wait until the deployment is running before cancelling.
	require.Eventually(t, func() bool {
		d, err := h.engine.GetStatus(id)
		return err == nil && d.Status == domain.DeploymentStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(h.server.URL+"/api/deployments/"+id.String()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	deployment := waitTerminal(t, h, id)
	assert.Equal(t, domain.DeploymentStatusCancelled, deployment.Status)
}

func TestCancelDeployment_NotFound(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	resp, err := http.Post(h.server.URL+"/api/deployments/"+uuid.NewString()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// WebSocket streaming

func wsURL(h *testHarness, id uuid.UUID) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/deployments/" + id.String() + "/ws"
}

func readEntries(t *testing.T, conn *websocket.Conn) []domain.LogEntry {
	t.Helper()
	var entries []domain.LogEntry
	for {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var entry domain.LogEntry
		if err := conn.ReadJSON(&entry); err != nil {
			return entries
		}
		entries = append(entries, entry)
		if isFinalEntry(entry) {
			return entries
		}
	}
}

func TestWS_StreamsReplayThenFinalStatus(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	id := startDeployment(t, h, "")
	waitTerminal(t, h, id)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, id), nil)
	require.NoError(t, err)
	defer conn.Close()

	entries := readEntries(t, conn)
	require.NotEmpty(t, entries)

	// Sequences are strictly increasing and gapless.
	for i, entry := range entries {
		assert.Equal(t, uint64(i+1), entry.Sequence)
	}

	last := entries[len(entries)-1]
	assert.Equal(t, domain.SourceDeployment, last.Source)
	assert.Equal(t, domain.LogKindStatus, last.Kind)
	assert.Equal(t, "success", last.Text)
}

func TestWS_CancelMessageCancelsDeployment(t *testing.T) {
	h := setupHarness(t, &fakeOpener{block: true})

	id := startDeployment(t, h, "")
	require.Eventually(t, func() bool {
		d, err := h.engine.GetStatus(id)
		return err == nil && d.Status == domain.DeploymentStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, id), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cancel"}))

	entries := readEntries(t, conn)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.LogKindStatus, last.Kind)
	assert.Equal(t, "cancelled", last.Text)
}

func TestWS_UnknownDeployment(t *testing.T) {
	h := setupHarness(t, &fakeOpener{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h, uuid.New()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
