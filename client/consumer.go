// Package client consumes a deployment's WebSocket log stream: it follows the
// merged log in order, survives reconnects without duplicating replayed
// entries, and can request cancellation mid-stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coxswain-cd/coxswain/domain"
)

// ErrNotConnected means Cancel was called while no connection was up.
var ErrNotConnected = errors.New("client: not connected")

// Options tune the reconnect behavior.
type Options struct {
	MaxAttempts int           // total connection attempts before giving up
	BaseDelay   time.Duration // delay before the first reconnect
	Multiplier  float64       // backoff growth factor
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 2.0
	}
	return opts
}

// Consumer follows one deployment's log stream until the final status entry.
type Consumer struct {
	baseURL      string
	deploymentID uuid.UUID
	opts         Options

	entries chan domain.LogEntry
	rnd     *rand.Rand

	mu      sync.Mutex
	conn    *websocket.Conn
	lastSeq uint64
	pending map[uint64]domain.LogEntry
}

func NewConsumer(baseURL string, deploymentID uuid.UUID, opts Options) *Consumer {
	return &Consumer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		deploymentID: deploymentID,
		opts:         opts.withDefaults(),
		entries:      make(chan domain.LogEntry, 64),
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		pending:      make(map[uint64]domain.LogEntry),
	}
}

// Entries is the ordered, deduplicated log stream. It closes when the final
// status entry has been delivered, the reconnect budget is exhausted, or ctx
// ends.
func (c *Consumer) Entries() <-chan domain.LogEntry {
	return c.entries
}

// Cancel asks the server to cancel the deployment being followed.
func (c *Consumer) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(map[string]string{"type": "cancel"})
}

// Run connects and consumes the stream until it ends. It returns nil when the
// deployment reached a terminal status, and an error when the stream was lost
// for good before that.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.entries)

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !c.sleep(ctx, c.backoffDelay(attempt-1)) {
				return ctx.Err()
			}
		}

		conn, err := c.connect(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		done, err := c.consume(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()
		if done {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			lastErr = err
		}
	}

	return fmt.Errorf("stream lost after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

func (c *Consumer) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.streamURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("deployment %s not found", c.deploymentID)
		}
		return nil, err
	}
	c.setConn(conn)
	return conn, nil
}

// consume reads entries until the connection drops or the final status entry
// arrives. The bool result reports whether the stream completed.
func (c *Consumer) consume(ctx context.Context, conn *websocket.Conn) (bool, error) {
	for {
		var entry domain.LogEntry
		if err := conn.ReadJSON(&entry); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				// Normal closure without a final entry means the deployment
				// was evicted; there is nothing more to stream.
				return true, nil
			}
			return false, err
		}
		finished, err := c.deliver(ctx, entry)
		if err != nil {
			return false, err
		}
		if finished {
			return true, nil
		}
	}
}

// deliver hands entries to the consumer channel in sequence order. Replayed
// entries after a reconnect are dropped; entries arriving ahead of a gap are
// buffered until the gap fills.
func (c *Consumer) deliver(ctx context.Context, entry domain.LogEntry) (bool, error) {
	c.mu.Lock()
	if entry.Sequence <= c.lastSeq {
		c.mu.Unlock()
		return false, nil
	}
	if entry.Sequence != c.lastSeq+1 {
		c.pending[entry.Sequence] = entry
		c.mu.Unlock()
		return false, nil
	}

	ready := []domain.LogEntry{entry}
	c.lastSeq = entry.Sequence
	for {
		next, ok := c.pending[c.lastSeq+1]
		if !ok {
			break
		}
		delete(c.pending, c.lastSeq+1)
		c.lastSeq = next.Sequence
		ready = append(ready, next)
	}
	c.mu.Unlock()

	for _, e := range ready {
		select {
		case c.entries <- e:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if isFinalEntry(e) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Consumer) streamURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = fmt.Sprintf("/deployments/%s/ws", c.deploymentID)
	return u.String(), nil
}

func (c *Consumer) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Consumer) backoffDelay(attempt int) time.Duration {
	delay := float64(c.opts.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.opts.Multiplier
	}
	jitter := delay * 0.2 * (2*c.rnd.Float64() - 1)
	return time.Duration(delay + jitter)
}

func (c *Consumer) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// isFinalEntry reports whether entry is the terminal status entry that ends a
// deployment's stream.
func isFinalEntry(entry domain.LogEntry) bool {
	if entry.Source != domain.SourceDeployment || entry.Kind != domain.LogKindStatus {
		return false
	}
	status, err := domain.ParseDeploymentStatus(entry.Text)
	if err != nil {
		return false
	}
	return status.IsTerminal()
}
