package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coxswain-cd/coxswain/domain"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// clientMessage is the only message clients send over the stream.
type clientMessage struct {
	Type string `json:"type"`
}

// handleDeploymentWS streams a deployment's merged log over a WebSocket:
// full replay first, then live entries. The connection closes from the server
// side once the final status entry has been delivered.
func (s *Server) handleDeploymentWS(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := s.engine.Subscribe(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			"layer", "web",
			"deployment_id", id,
			"error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	// Read loop: watches for cancel requests and client disconnects.
	go func() {
		defer cancel()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			if msg.Type == "cancel" {
				if err := s.engine.Cancel(id); err != nil {
					slog.Debug("Cancel request for unknown deployment",
						"deployment_id", id,
						"error", err)
				}
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case entry, ok := <-stream:
			if !ok {
				// Registry eviction or client context end.
				s.closeConn(conn, "stream closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
			if isFinalEntry(entry) {
				s.closeConn(conn, "deployment finished")
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) closeConn(conn *websocket.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
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
