package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// LocalChannel executes commands on the local machine through a shell. It is
// the default build-phase channel.
type LocalChannel struct {
	Dir string // working directory; empty means the process working directory
	Env []string
}

func NewLocalChannel(dir string) *LocalChannel {
	return &LocalChannel{Dir: dir}
}

func (c *LocalChannel) Run(ctx context.Context, command string, out chan<- OutputLine) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		slog.Error("Command execution failed",
			"layer", "executor",
			"operation", "local_start",
			"command", command,
			"error", err)
		return -1, fmt.Errorf("failed to start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, out, false)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, out, true)
	}()

	// Drain both pipes before inspecting the exit status so no trailing
	// output is lost on failure.
	wg.Wait()
	err = cmd.Wait()

	if ctx.Err() != nil {
		return -1, fmt.Errorf("command interrupted: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("command failed: %w", err)
	}
	return 0, nil
}

func (c *LocalChannel) Close() error {
	return nil
}

func scanLines(r io.Reader, out chan<- OutputLine, stderr bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- OutputLine{Text: scanner.Text(), Stderr: stderr}
	}
}
