package repository

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/coxswain-cd/coxswain/domain"
)

// maxRecordedLogLines caps how much of a deployment's log stream is kept in
// its stored record. The full stream only ever lives in the registry.
const maxRecordedLogLines = 500

// Recorder persists terminal deployment snapshots. It satisfies the engine's
// recorder contract: persistence failures are logged and swallowed so they
// never affect the deployment outcome.
type Recorder struct {
	records DeploymentRecordRepository
}

func NewRecorder(records DeploymentRecordRepository) *Recorder {
	return &Recorder{records: records}
}

func (r *Recorder) Record(deployment domain.Deployment, logTail []domain.LogEntry) {
	if err := r.records.Create(&deployment, renderLogTail(logTail)); err != nil {
		slog.Error("Failed to record finished deployment",
			"layer", "repository",
			"operation", "record_deployment",
			"deployment_id", deployment.ID,
			"project_name", deployment.ProjectName,
			"error", err)
	}
}

// renderLogTail flattens the last portion of a log stream into the plain text
// form shown by the deployment history commands.
func renderLogTail(entries []domain.LogEntry) string {
	if len(entries) > maxRecordedLogLines {
		entries = entries[len(entries)-maxRecordedLogLines:]
	}
	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", entry.Source, entry.Text)
	}
	return b.String()
}
