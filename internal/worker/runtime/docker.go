package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// ContainerWorkDir is where StartOptions.WorkDir is mounted inside the container.
const ContainerWorkDir = "/workspace"

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
	logger *slog.Logger
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime(logger *slog.Logger) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRuntime{client: cli, logger: logger}, nil
}

// containerSpec builds the container configuration for opts.
func containerSpec(opts StartOptions) (*container.Config, *container.HostConfig, string) {
	labels := map[string]string{"app.kubernetes.io/managed-by": ManagedBy}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	cfg := &container.Config{
		Image:  opts.Image,
		Cmd:    opts.Command,
		Env:    mapToEnvList(opts.Env),
		Labels: labels,
		Tty:    true,
	}

	hostCfg := &container.HostConfig{}
	if opts.WorkDir != "" {
		cfg.WorkingDir = ContainerWorkDir
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: opts.WorkDir,
			Target: ContainerWorkDir,
		}}
	}

	name := ""
	if opts.Name != "" {
		name = resourceName(opts.Name)
	}
	return cfg, hostCfg, name
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	// Check if it exists locally first to save time.
	if _, err := d.client.ImageInspect(ctx, opts.Image); err != nil {
		d.logger.InfoContext(ctx, "pulling stage image", "image", opts.Image)
		reader, err := d.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", opts.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig, hostConfig, name := containerSpec(opts)
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	d.logger.InfoContext(ctx, "stage container started", "container_id", resp.ID, "image", opts.Image)
	return &DockerHandle{
		client:      d.client,
		containerID: resp.ID,
	}, nil
}

func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitResult{
				ExitCode: int(status.StatusCode),
				Error:    fmt.Errorf("%s", status.Error.Message),
			}, nil
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *DockerHandle) Stop(ctx context.Context) error {
	timeout := 5
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
}

func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}
