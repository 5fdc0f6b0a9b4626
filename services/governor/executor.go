package governor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	executorRemote   = "remote"
	executorEmbedded = "embedded"
)

// JobDescriptor is the unit of work handed to an executor. For remote agents
// it is serialised, signed, and sent with the helper bearer token; the agent
// verifies the signature before running anything.
type JobDescriptor struct {
	JobID             uuid.UUID `json:"job_id"`
	ActionID          string    `json:"action_id"`
	Commands          []string  `json:"commands"`
	Reversible        bool      `json:"reversible"`
	BackupPaths       []string  `json:"backup_paths,omitempty"`
	BackupKey         string    `json:"backup_key,omitempty"`
	BackupUploadURL   string    `json:"backup_upload_url,omitempty"`
	BackupDownloadURL string    `json:"backup_download_url,omitempty"`
	RollbackOf        string    `json:"rollback_of,omitempty"`
}

// JobResult reports what an executor did with a descriptor. Remote agents
// return statusAccepted and report the terminal status later via callback.
type JobResult struct {
	Status         string   `json:"status"`
	Logs           []string `json:"logs"`
	BackupCaptured bool     `json:"backup_captured"`
}

const (
	resultAccepted  = "accepted"
	resultCompleted = "completed"
	resultFailed    = "failed"
)

// Executor runs one job descriptor. Implementations must not hang: agent
// unreachability surfaces as an ErrAgentUnreachable-wrapped error.
type Executor interface {
	Name() string
	Run(ctx context.Context, token string, desc JobDescriptor) (JobResult, error)
}

// embeddedRunner executes browser-scoped safe actions in-process. It is the
// only executor trusted to run without the remote agent boundary.
type embeddedRunner struct {
	dryRun bool
}

func (r *embeddedRunner) Name() string { return executorEmbedded }

func (r *embeddedRunner) Run(ctx context.Context, _ string, desc JobDescriptor) (JobResult, error) {
	logs := make([]string, 0, len(desc.Commands)+1)

	for _, command := range desc.Commands {
		if r.dryRun {
			logs = append(logs, logLine("dry-run: "+command))
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		out, err := exec.CommandContext(runCtx, "sh", "-c", command).CombinedOutput()
		cancel()

		if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
			logs = append(logs, logLine(trimmed))
		}
		if err != nil {
			logs = append(logs, logLine(fmt.Sprintf("command failed: %v", err)))
			return JobResult{Status: resultFailed, Logs: logs}, nil
		}
		logs = append(logs, logLine("ok: "+command))
	}

	return JobResult{Status: resultCompleted, Logs: logs}, nil
}

func logLine(msg string) string {
	return fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), msg)
}
