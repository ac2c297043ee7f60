package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fleetctl/fleetd/pkg/health"
	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/fleetctl/fleetd/pkg/runtime"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/google/uuid"
)

var log = logging.WithComponent("runner")

const defaultTimeout = 5 * time.Minute

// Runner executes TaskPayloads that have already cleared policy
// validation. RunCommand and Custom are accepted by the type system but
// always rejected here, mirroring the fact that no code path schedules
// them: the policy validator already refuses to let either reach a
// node, so their case in Run exists only to keep the switch exhaustive.
type Runner struct {
	timeout   time.Duration
	runtime   *runtime.ContainerdRuntime
}

// New creates a Runner with the default per-task timeout.
func New(rt *runtime.ContainerdRuntime) *Runner {
	return &Runner{timeout: defaultTimeout, runtime: rt}
}

// WithTimeout overrides the default per-task timeout.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	r.timeout = d
	return r
}

// Run executes a task payload to completion, returning its JSON result
// on success.
func (r *Runner) Run(ctx context.Context, payload types.TaskPayload) (json.RawMessage, error) {
	switch payload.Kind {
	case types.PayloadEcho:
		log.Info().Str("message", payload.Message).Msg("echo")
		return marshal(map[string]string{"echoed": payload.Message})

	case types.PayloadCheckService:
		return r.checkService(ctx, payload.ServiceName, payload.CheckURL)

	case types.PayloadRestartService:
		return r.restartService(ctx, payload.ServiceName)

	case types.PayloadSyncDirectory:
		return r.syncDirectory(ctx, payload.Src, payload.Dst)

	case types.PayloadContainerRun:
		return r.containerRun(ctx, payload.Image, payload.Args)

	case types.PayloadRunCommand:
		return nil, fmt.Errorf("arbitrary command execution is disabled")

	case types.PayloadCustom:
		return nil, fmt.Errorf("custom tool '%s' not implemented", payload.ToolID)

	default:
		return nil, fmt.Errorf("unknown task payload kind: %s", payload.Kind)
	}
}

// checkService reports whether serviceName is up. If checkURL is set the
// service is probed over HTTP (for services that expose a health
// endpoint); otherwise it falls back to asking systemd directly.
func (r *Runner) checkService(ctx context.Context, serviceName, checkURL string) (json.RawMessage, error) {
	log.Debug().Str("service", serviceName).Str("check_url", checkURL).Msg("checking service")

	var checker health.Checker
	if checkURL != "" {
		checker = health.NewHTTPChecker(checkURL).WithTimeout(30 * time.Second)
	} else {
		checker = health.NewExecChecker([]string{"systemctl", "is-active", serviceName}).WithTimeout(30 * time.Second)
	}

	result := checker.Check(ctx)

	return marshal(map[string]interface{}{
		"service":   serviceName,
		"check":     checker.Type(),
		"is_active": result.Healthy,
		"message":   result.Message,
	})
}

func (r *Runner) restartService(ctx context.Context, serviceName string) (json.RawMessage, error) {
	log.Warn().Str("service", serviceName).Msg("restarting service")

	execCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(execCtx, "systemctl", "restart", serviceName)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to restart %s: %s", serviceName, stderr.String())
	}

	return marshal(map[string]interface{}{
		"service": serviceName,
		"action":  "restarted",
		"success": true,
	})
}

func (r *Runner) syncDirectory(ctx context.Context, src, dst string) (json.RawMessage, error) {
	log.Info().Str("src", src).Str("dst", dst).Msg("syncing directory")

	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("source path does not exist: %s", src)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(execCtx, "rsync", "-av", "--delete", src, dst)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rsync failed: %s", stderr.String())
	}

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}

	return marshal(map[string]interface{}{
		"src":     src,
		"dst":     dst,
		"success": true,
		"output":  strings.Join(lines, "\n"),
	})
}

func (r *Runner) containerRun(ctx context.Context, image string, args []string) (json.RawMessage, error) {
	if r.runtime == nil {
		return nil, fmt.Errorf("container runtime not available on this node")
	}

	log.Info().Str("image", image).Strs("args", args).Msg("container run")

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.runtime.RunOnce(execCtx, "task-"+uuid.NewString(), image, args, nil)
	if err != nil {
		return nil, fmt.Errorf("container run failed: %w", err)
	}

	return marshal(map[string]interface{}{
		"image":     image,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
	})
}

func marshal(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
