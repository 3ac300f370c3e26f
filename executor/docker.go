package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerChannel executes commands inside a one-shot container. It is an
// alternative build-phase channel for projects whose build should not touch
// the host toolchain.
type DockerChannel struct {
	cli      *client.Client
	Image    string
	WorkDir  string // host directory bind-mounted at /workspace
	PullOnce bool
	pulled   bool
}

func NewDockerChannel(image, workDir string) (*DockerChannel, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerChannel{cli: cli, Image: image, WorkDir: workDir, PullOnce: true}, nil
}

func (c *DockerChannel) Run(ctx context.Context, command string, out chan<- OutputLine) (int, error) {
	if err := c.ensureImage(ctx); err != nil {
		return -1, err
	}

	var mounts []mount.Mount
	workingDir := ""
	if c.WorkDir != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: c.WorkDir, Target: "/workspace"})
		workingDir = "/workspace"
	}

	containerName := "coxswain-build-" + uuid.NewString()[:8]
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:      c.Image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: workingDir,
	}, &container.HostConfig{
		Mounts: mounts,
	}, nil, nil, containerName)
	if err != nil {
		return -1, fmt.Errorf("failed to create build container: %w", err)
	}
	defer func() {
		if removeErr := c.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Debug("Failed to remove build container", "container", containerName, "error", removeErr)
		}
	}()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("failed to start build container: %w", err)
	}

	logs, err := c.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to attach to build container logs: %w", err)
	}
	defer func() { _ = logs.Close() }()

	// Demultiplex the Docker log stream into line channels.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, logs)
		_ = stdoutW.CloseWithError(copyErr)
		_ = stderrW.CloseWithError(copyErr)
	}()

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanLines(stdoutR, out, false)
	}()
	scanLines(stderrR, out, true)
	<-scanDone

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return -1, fmt.Errorf("build container interrupted: %w", ctx.Err())
	case err := <-errCh:
		return -1, fmt.Errorf("error waiting for build container: %w", err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (c *DockerChannel) ensureImage(ctx context.Context) error {
	if c.PullOnce && c.pulled {
		return nil
	}
	reader, err := c.cli.ImagePull(ctx, c.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", c.Image, err)
	}
	defer func() { _ = reader.Close() }()

	// The pull only completes once the reader is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull for %s: %w", c.Image, err)
	}
	c.pulled = true
	return nil
}

func (c *DockerChannel) Close() error {
	if c.cli != nil {
		return c.cli.Close()
	}
	return nil
}
