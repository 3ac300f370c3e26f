package domain

import (
	"time"

	"github.com/google/uuid"
)

// TargetResult is the write-once terminal result of one target's deploy run.
type TargetResult struct {
	Status   TargetStatus  `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ms"`
	Message  string        `json:"message,omitempty"` // error text for failed targets
}

// Deployment is one run of a project's build+deploy pipeline. The orchestrator
// owning the deployment is its only writer; everything handed to other
// goroutines goes through Snapshot.
type Deployment struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	ProjectName   string
	Project       Project // immutable snapshot taken at start time
	Status        DeploymentStatus
	Policy        Policy
	TargetResults map[string]TargetResult
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

func NewDeployment(project Project, policy Policy) Deployment {
	return Deployment{
		ID:            uuid.New(),
		ProjectID:     project.ID,
		ProjectName:   project.Name,
		Project:       project.Snapshot(),
		Status:        DeploymentStatusPending,
		Policy:        policy,
		TargetResults: make(map[string]TargetResult, len(project.Targets)),
		CreatedAt:     time.Now(),
	}
}

// Snapshot returns a deep copy safe for concurrent readers.
func (d *Deployment) Snapshot() Deployment {
	cp := *d
	cp.Project = d.Project.Snapshot()
	cp.TargetResults = make(map[string]TargetResult, len(d.TargetResults))
	for name, result := range d.TargetResults {
		cp.TargetResults[name] = result
	}
	if d.StartedAt != nil {
		started := *d.StartedAt
		cp.StartedAt = &started
	}
	if d.CompletedAt != nil {
		completed := *d.CompletedAt
		cp.CompletedAt = &completed
	}
	return cp
}

// DeploymentRecord is the persisted trace of a finished deployment: the
// terminal snapshot plus the tail of its log stream. Unlike Deployment it
// carries no live state and no project snapshot.
type DeploymentRecord struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	ProjectName   string
	Status        DeploymentStatus
	Policy        Policy
	TargetResults map[string]TargetResult
	LogTail       string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// FailedTargets returns the names of targets whose result is failed.
func (d *Deployment) FailedTargets() []string {
	var failed []string
	for name, result := range d.TargetResults {
		if result.Status == TargetStatusFailed {
			failed = append(failed, name)
		}
	}
	return failed
}
