// Package executor provides execution channels: the capability to run a
// command against a host and stream its output line by line.
package executor

import (
	"context"

	"github.com/coxswain-cd/coxswain/domain"
)

// OutputLine is one line of command output.
type OutputLine struct {
	Text   string
	Stderr bool
}

// ExecutionChannel runs commands against one host. Implementations stream
// output incrementally and must observe ctx cancellation promptly by
// interrupting the running command.
type ExecutionChannel interface {
	// Run executes command, sending output lines to out until the command
	// exits. It returns the command's exit code; a non-zero exit is not an
	// error. A non-nil error means the command could not be run to completion
	// (session failure, interruption). Run never closes out and performs no
	// sends on it after returning; the caller owns the channel lifecycle.
	Run(ctx context.Context, command string, out chan<- OutputLine) (int, error)

	// Close releases the underlying connection, if any.
	Close() error
}

// Opener opens an execution channel against a server target.
type Opener interface {
	Open(ctx context.Context, target domain.ServerTarget) (ExecutionChannel, error)
}
