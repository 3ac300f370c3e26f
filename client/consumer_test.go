package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coxswain-cd/coxswain/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func entry(seq uint64, source string, kind domain.LogKind, text string) domain.LogEntry {
	return domain.LogEntry{
		Source:    source,
		Kind:      kind,
		Text:      text,
		Sequence:  seq,
		Timestamp: time.Now(),
	}
}

func finalEntry(seq uint64, status string) domain.LogEntry {
	return entry(seq, domain.SourceDeployment, domain.LogKindStatus, status)
}

// streamServer runs handler once per WebSocket connection.
func streamServer(t *testing.T, handler func(conn *websocket.Conn, attempt int)) *httptest.Server {
	t.Helper()
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, int(attempts.Add(1)))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func collect(t *testing.T, c *Consumer) ([]domain.LogEntry, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	var entries []domain.LogEntry
	for e := range c.Entries() {
		entries = append(entries, e)
	}
	return entries, <-errCh
}

func fastOptions() Options {
	return Options{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Multiplier: 2.0}
}

func TestConsumer_StreamsUntilFinalStatus(t *testing.T) {
	ts := streamServer(t, func(conn *websocket.Conn, _ int) {
		_ = conn.WriteJSON(entry(1, domain.SourceBuild, domain.LogKindLog, "compiling"))
		_ = conn.WriteJSON(entry(2, "web-1", domain.LogKindLog, "restarting"))
		_ = conn.WriteJSON(finalEntry(3, "success"))
	})

	c := NewConsumer(ts.URL, uuid.New(), fastOptions())
	entries, err := collect(t, c)

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "compiling", entries[0].Text)
	assert.Equal(t, "success", entries[2].Text)
}

func TestConsumer_ReconnectDedupesReplay(t *testing.T) {
	ts := streamServer(t, func(conn *websocket.Conn, attempt int) {
		if attempt == 1 {
			// Drop the connection mid-stream without a close frame.
			_ = conn.WriteJSON(entry(1, domain.SourceBuild, domain.LogKindLog, "compiling"))
			_ = conn.WriteJSON(entry(2, domain.SourceBuild, domain.LogKindLog, "linking"))
			_ = conn.UnderlyingConn().Close()
			return
		}
		// Full replay on reconnect.
		_ = conn.WriteJSON(entry(1, domain.SourceBuild, domain.LogKindLog, "compiling"))
		_ = conn.WriteJSON(entry(2, domain.SourceBuild, domain.LogKindLog, "linking"))
		_ = conn.WriteJSON(entry(3, "web-1", domain.LogKindLog, "restarting"))
		_ = conn.WriteJSON(finalEntry(4, "success"))
	})

	c := NewConsumer(ts.URL, uuid.New(), fastOptions())
	entries, err := collect(t, c)

	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
}

func TestConsumer_BuffersOutOfOrderEntries(t *testing.T) {
	ts := streamServer(t, func(conn *websocket.Conn, _ int) {
		_ = conn.WriteJSON(entry(2, domain.SourceBuild, domain.LogKindLog, "second"))
		_ = conn.WriteJSON(entry(1, domain.SourceBuild, domain.LogKindLog, "first"))
		_ = conn.WriteJSON(finalEntry(3, "success"))
	})

	c := NewConsumer(ts.URL, uuid.New(), fastOptions())
	entries, err := collect(t, c)

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Text)
	assert.Equal(t, "second", entries[1].Text)
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := NewConsumer(ts.URL, uuid.New(), Options{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 2.0})
	entries, err := collect(t, c)

	assert.Empty(t, entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestConsumer_NormalClosureWithoutFinalEntry(t *testing.T) {
	// An evicted deployment's stream closes cleanly with no final entry.
	ts := streamServer(t, func(conn *websocket.Conn, _ int) {
		_ = conn.WriteJSON(entry(1, domain.SourceDeployment, domain.LogKindError, "deployment evicted from registry"))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
	})

	c := NewConsumer(ts.URL, uuid.New(), fastOptions())
	entries, err := collect(t, c)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogKindError, entries[0].Kind)
}

func TestConsumer_CancelSendsCancelMessage(t *testing.T) {
	cancelReceived := make(chan struct{})
	ts := streamServer(t, func(conn *websocket.Conn, _ int) {
		_ = conn.WriteJSON(entry(1, domain.SourceBuild, domain.LogKindLog, "compiling"))

		var msg map[string]string
		if err := conn.ReadJSON(&msg); err == nil && msg["type"] == "cancel" {
			close(cancelReceived)
		}
		_ = conn.WriteJSON(finalEntry(2, "cancelled"))
	})

	c := NewConsumer(ts.URL, uuid.New(), fastOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	var entries []domain.LogEntry
	for e := range c.Entries() {
		entries = append(entries, e)
		if len(entries) == 1 {
			require.NoError(t, c.Cancel())
		}
	}

	require.NoError(t, <-errCh)
	select {
	case <-cancelReceived:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received cancel message")
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "cancelled", entries[1].Text)
}

func TestConsumer_InvalidServerURL(t *testing.T) {
	c := NewConsumer("ftp://example.com", uuid.New(), fastOptions())

	entries, err := collect(t, c)

	assert.Empty(t, entries)
	require.Error(t, err)
}
