package domain

import "fmt"

// DeploymentStatus represents the lifecycle status of a deployment.
type DeploymentStatus int

const (
	DeploymentStatusUnknown DeploymentStatus = iota
	DeploymentStatusPending
	DeploymentStatusRunning
	DeploymentStatusSuccess
	DeploymentStatusFailed
	DeploymentStatusCancelled
)

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentStatusPending:
		return "pending"
	case DeploymentStatusRunning:
		return "running"
	case DeploymentStatusSuccess:
		return "success"
	case DeploymentStatusFailed:
		return "failed"
	case DeploymentStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further status transitions are possible.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentStatusSuccess, DeploymentStatusFailed, DeploymentStatusCancelled:
		return true
	default:
		return false
	}
}

func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch s {
	case "pending":
		return DeploymentStatusPending, nil
	case "running":
		return DeploymentStatusRunning, nil
	case "success":
		return DeploymentStatusSuccess, nil
	case "failed":
		return DeploymentStatusFailed, nil
	case "cancelled":
		return DeploymentStatusCancelled, nil
	default:
		return DeploymentStatusUnknown, fmt.Errorf("invalid deployment status: %q", s)
	}
}

// TargetStatus represents the terminal result of one target's deploy run.
type TargetStatus int

const (
	TargetStatusUnknown TargetStatus = iota
	TargetStatusSuccess
	TargetStatusFailed
	TargetStatusSkipped
)

func (s TargetStatus) String() string {
	switch s {
	case TargetStatusSuccess:
		return "success"
	case TargetStatusFailed:
		return "failed"
	case TargetStatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func ParseTargetStatus(s string) (TargetStatus, error) {
	switch s {
	case "success":
		return TargetStatusSuccess, nil
	case "failed":
		return TargetStatusFailed, nil
	case "skipped":
		return TargetStatusSkipped, nil
	default:
		return TargetStatusUnknown, fmt.Errorf("invalid target status: %q", s)
	}
}

// Policy governs whether one target's failure halts the remaining targets.
type Policy int

const (
	// PolicyBestEffort runs every target regardless of individual failures.
	PolicyBestEffort Policy = iota
	// PolicyFailFast stops scheduling new targets once any target fails.
	PolicyFailFast
)

func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "fail-fast"
	default:
		return "best-effort"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "best-effort":
		return PolicyBestEffort, nil
	case "fail-fast":
		return PolicyFailFast, nil
	default:
		return PolicyBestEffort, fmt.Errorf("invalid deployment policy: %q", s)
	}
}
