// Package jobs discovers running training processes on a node by parsing
// pgrep output and issuing follow-up remote calls for uptime and log tail.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fleetwatch/gpu-observer/internal/transport"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// trainingMarker is the known path segment identifying the fake training
// process among pgrep's output.
const trainingMarker = "dummy_train.py"

// Executor is the subset of transport.Executor that job discovery needs,
// narrowed to keep this package testable against a fake.
type Executor interface {
	Execute(ctx context.Context, node model.NodeDescriptor, command string, timeout time.Duration) (transport.Result, error)
}

// Discover runs pgrep on node, extracts training job identity from matching
// lines, and issues best-effort follow-up calls for uptime and a log
// preview. Lines missing any of --owner/--project/--mode are skipped with
// a warning. logsDir is the directory the training process writes its own
// log under; the log path is derived from the session name the same way
// the training process itself names its log file, not read off the
// process's argument list.
func Discover(ctx context.Context, exec Executor, node model.NodeDescriptor, logsDir string) []model.JobDescriptor {
	pgrepRes, err := exec.Execute(ctx, node, "pgrep -af "+trainingMarker, 3*time.Second)
	if err != nil {
		slog.Warn("jobs: pgrep failed", "node", node.Name, "error", err)
		return nil
	}

	var descriptors []model.JobDescriptor
	for _, line := range strings.Split(pgrepRes.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		desc, ok := parsePgrepLine(line)
		if !ok {
			slog.Warn("jobs: skipping pgrep line missing a required argument", "node", node.Name, "line", line)
			continue
		}
		desc.Node = node.Name
		desc.LogFile = logFilePath(logsDir, desc.Session)

		if uptimeRes, err := exec.Execute(ctx, node, fmt.Sprintf("ps -p %d -o etime=", desc.PID), 3*time.Second); err == nil {
			desc.Uptime = strings.TrimSpace(uptimeRes.Stdout)
		}

		if tailRes, err := exec.Execute(ctx, node, fmt.Sprintf("tail -n 5 %s", desc.LogFile), 3*time.Second); err == nil {
			desc.LogPreview = splitNonEmptyLines(tailRes.Stdout)
		}

		descriptors = append(descriptors, desc)
	}

	return descriptors
}

// logFilePath derives a training job's log path from its session name, the
// same way dummy_train.py derives its own log path from --owner/--project/
// --mode: <logs_dir>/<session with ':' replaced by '_'>.log.
func logFilePath(logsDir, session string) string {
	return filepath.Join(logsDir, strings.ReplaceAll(session, ":", "_")+".log")
}

// parsePgrepLine parses one "pgrep -af" line: "<pid> <command...>", scanning
// the argument list for --owner, --project, and --mode.
func parsePgrepLine(line string) (model.JobDescriptor, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return model.JobDescriptor{}, false
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.JobDescriptor{}, false
	}

	var owner, project, mode string
	for i, f := range fields {
		switch f {
		case "--owner":
			if i+1 < len(fields) {
				owner = fields[i+1]
			}
		case "--project":
			if i+1 < len(fields) {
				project = fields[i+1]
			}
		case "--mode":
			if i+1 < len(fields) {
				mode = fields[i+1]
			}
		}
	}

	if owner == "" || project == "" || mode == "" {
		return model.JobDescriptor{}, false
	}

	return model.JobDescriptor{
		PID:     pid,
		Session: model.Session(owner, project, mode),
	}, true
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
