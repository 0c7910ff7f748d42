package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/pkg/logs"
)

// runScript launches profile.EntrypointPath as a subprocess of its own
// process group (grounded on the teacher's
// internal/agent/tool/shellx/exec.go runExecCommand), writes its combined
// stdout/stderr to a per-run log file under r.logDir, and terminates the
// whole process group on cancellation rather than just the immediate child,
// since shells and their children otherwise survive a plain kill.
func (r *Runner) runScript(ctx context.Context, profile coredb.TaskProfile, run coredb.Run) (Outcome, error) {
	if strings.TrimSpace(profile.EntrypointPath) == "" {
		return Outcome{Status: coredb.RunFailed, Error: "script task has no entrypoint_path"}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", profile.EntrypointPath)
	cmd.Env = append(os.Environ(),
		"CENTRAL_RUN_ID="+run.RunID,
		"CENTRAL_TASK_ID="+profile.TaskID,
		"CENTRAL_PAYLOAD_JSON="+run.PayloadJSON,
		"ZUBOT_RUN_PAYLOAD="+run.PayloadJSON,
	)
	setCommandProcessGroup(cmd)

	var out bytes.Buffer
	var logFile *os.File
	if r.logDir != "" {
		if err := os.MkdirAll(r.logDir, 0o755); err == nil {
			f, err := os.Create(filepath.Join(r.logDir, run.RunID+".log"))
			if err == nil {
				logFile = f
				defer logFile.Close()
			} else {
				logs.CtxWarn(ctx, "[runner] create run log for %s: %v", run.RunID, err)
			}
		}
	}
	if logFile != nil {
		cmd.Stdout = io.MultiWriter(&out, logFile)
		cmd.Stderr = io.MultiWriter(&out, logFile)
	} else {
		cmd.Stdout = &out
		cmd.Stderr = &out
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		killCommandProcessGroup(cmd)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Outcome{Status: coredb.RunFailed, Error: "timeout"}, nil
		}
		return Outcome{Status: coredb.RunBlocked, Error: "killed"}, nil
	}

	tail := lastLines(out.String(), 4000)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Outcome{
				Status: coredb.RunFailed,
				Error:  fmt.Sprintf("exit code %d after %s:\n%s", exitErr.ExitCode(), elapsed.Round(time.Millisecond), tail),
			}, nil
		}
		return Outcome{}, fmt.Errorf("runner: launch script for task %s: %w", profile.TaskID, err)
	}

	return Outcome{
		Status:  coredb.RunDone,
		Summary: fmt.Sprintf("completed in %s\n%s", elapsed.Round(time.Millisecond), tail),
	}, nil
}

// lastLines returns at most maxBytes of the tail of s, so a failing script's
// full stdout never inflates the run/run_history row beyond reason.
func lastLines(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return "...(truncated)...\n" + s[len(s)-maxBytes:]
}
