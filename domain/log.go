package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceBuild is the log source name of the build phase. Target names are
// validated against it so a target can never shadow build output.
const SourceBuild = "build"

// SourceDeployment is the log source of deployment lifecycle entries (the
// final status entry among them).
const SourceDeployment = "deployment"

// LogKind classifies a log entry.
type LogKind string

const (
	LogKindLog    LogKind = "log"
	LogKindStatus LogKind = "status"
	LogKindError  LogKind = "error"
)

// LogEntry is one multiplexed log line of a deployment. Sequence is assigned
// at the moment of merge and is the only total order guarantee; timestamps are
// for display only.
type LogEntry struct {
	DeploymentID uuid.UUID `json:"deployment_id"`
	Source       string    `json:"source"` // "build" or a target name
	Kind         LogKind   `json:"type"`
	Text         string    `json:"data"`
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}
