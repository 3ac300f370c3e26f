// Package web exposes the deployment engine over HTTP: a JSON API for
// starting, inspecting and cancelling deployments, and a WebSocket endpoint
// streaming each deployment's merged log.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/coxswain-cd/coxswain/engine"
	"github.com/coxswain-cd/coxswain/repository"
)

// Server wires the engine and repositories into an HTTP handler.
type Server struct {
	engine   *engine.Engine
	projects repository.ProjectRepository
	records  repository.DeploymentRecordRepository

	upgrader websocket.Upgrader
}

func NewServer(
	eng *engine.Engine,
	projects repository.ProjectRepository,
	records repository.DeploymentRecordRepository,
) *Server {
	return &Server{
		engine:   eng,
		projects: projects,
		records:  records,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Router builds the chi router with all API routes registered.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/projects/{id}/deploy", s.handleDeploy)
		r.Get("/deployments", s.handleListDeployments)
		r.Get("/deployments/{id}", s.handleGetDeployment)
		r.Post("/deployments/{id}/cancel", s.handleCancelDeployment)
	})

	r.Get("/deployments/{id}/ws", s.handleDeploymentWS)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "address", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
