package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
)

const (
	// DefaultNamespace is the containerd namespace fleetd runs tasks in.
	DefaultNamespace = "fleetd"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime wraps containerd's client API for single-shot,
// run-to-completion task containers. fleetd has no long-running service
// workloads; every container it creates is started, waited on, and torn
// down as part of executing a single task.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime connects to a containerd socket.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// RunResult is the outcome of a single-shot container run.
type RunResult struct {
	ExitCode uint32
	TimedOut bool
}

// RunOnce pulls image (if not already present), creates a container running
// command/args, waits for it to exit or for the context to be cancelled,
// and always tears the container down before returning.
func (r *ContainerdRuntime) RunOnce(ctx context.Context, containerID, image string, command []string, env []string) (RunResult, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	img, err := r.client.GetImage(ctx, image)
	if err != nil {
		img, err = r.client.Pull(ctx, image, containerd.WithPullUnpack)
		if err != nil {
			return RunResult{}, fmt.Errorf("failed to pull image %s: %w", image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(img),
		oci.WithEnv(env),
	}
	if len(command) > 0 {
		opts = append(opts, oci.WithProcessArgs(command...))
	}

	container, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(containerID+"-snapshot", img),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create container: %w", err)
	}
	defer container.Delete(context.Background(), containerd.WithSnapshotCleanup)

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create task: %w", err)
	}
	defer task.Delete(context.Background())

	statusC, err := task.Wait(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return RunResult{}, fmt.Errorf("failed to start task: %w", err)
	}

	select {
	case status := <-statusC:
		return RunResult{ExitCode: status.ExitCode()}, status.Error()
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		task.Kill(stopCtx, 9)
		return RunResult{TimedOut: true}, ctx.Err()
	}
}
