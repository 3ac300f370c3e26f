package engine

import "errors"

var (
	// ErrDeploymentNotFound means the deployment ID is unknown or already
	// evicted from the registry.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrInvalidProject wraps project validation failures rejected at Start.
	ErrInvalidProject = errors.New("invalid project")
)
