package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/engine"
)

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// targetResultView is the JSON shape of one target's result.
type targetResultView struct {
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

// deploymentView is the JSON shape of a deployment, live or historical.
type deploymentView struct {
	ID            uuid.UUID                   `json:"id"`
	ProjectID     uuid.UUID                   `json:"project_id"`
	ProjectName   string                      `json:"project_name"`
	Status        string                      `json:"status"`
	Policy        string                      `json:"policy"`
	TargetResults map[string]targetResultView `json:"target_results"`
	CreatedAt     time.Time                   `json:"created_at"`
	StartedAt     *time.Time                  `json:"started_at,omitempty"`
	CompletedAt   *time.Time                  `json:"completed_at,omitempty"`
}

func targetResultViews(results map[string]domain.TargetResult) map[string]targetResultView {
	views := make(map[string]targetResultView, len(results))
	for name, result := range results {
		views[name] = targetResultView{
			Status:     result.Status.String(),
			ExitCode:   result.ExitCode,
			DurationMS: result.Duration.Milliseconds(),
			Message:    result.Message,
		}
	}
	return views
}

func deploymentToView(d domain.Deployment) deploymentView {
	return deploymentView{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		ProjectName:   d.ProjectName,
		Status:        d.Status.String(),
		Policy:        d.Policy.String(),
		TargetResults: targetResultViews(d.TargetResults),
		CreatedAt:     d.CreatedAt,
		StartedAt:     d.StartedAt,
		CompletedAt:   d.CompletedAt,
	}
}

func recordToView(r *domain.DeploymentRecord) deploymentView {
	return deploymentView{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		ProjectName:   r.ProjectName,
		Status:        r.Status.String(),
		Policy:        r.Policy.String(),
		TargetResults: targetResultViews(r.TargetResults),
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deployRequest struct {
	Policy string `json:"policy,omitempty"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var req deployRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	policy := domain.PolicyBestEffort
	if req.Policy != "" {
		policy, err = domain.ParsePolicy(req.Policy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	project, err := s.projects.FindByID(projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		slog.Error("Request failed",
			"layer", "web",
			"operation", "deploy",
			"project_id", projectID,
			"error", err)
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	deploymentID, err := s.engine.Start(*project, policy)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidProject) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("Request failed",
			"layer", "web",
			"operation", "deploy",
			"project_id", projectID,
			"error", err)
		writeError(w, http.StatusInternalServerError, "failed to start deployment")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"deployment_id": deploymentID.String(),
	})
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments := s.engine.List()
	views := make([]deploymentView, len(deployments))
	for i, d := range deployments {
		views[i] = deploymentToView(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": views})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	deployment, err := s.engine.GetStatus(id)
	if err == nil {
		writeJSON(w, http.StatusOK, deploymentToView(deployment))
		return
	}

	// Evicted deployments live on in the history table.
	record, recordErr := s.records.FindByID(id)
	if recordErr == nil {
		writeJSON(w, http.StatusOK, recordToView(record))
		return
	}

	writeError(w, http.StatusNotFound, "deployment not found")
}

func (s *Server) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	if err := s.engine.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
