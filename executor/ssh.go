package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/coxswain-cd/coxswain/domain"
)

// SSHOpener opens SSH execution channels against server targets. It is the
// production opener for the deploy phase.
type SSHOpener struct {
	DialTimeout time.Duration
}

func NewSSHOpener(dialTimeout time.Duration) *SSHOpener {
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}
	return &SSHOpener{DialTimeout: dialTimeout}
}

func (o *SSHOpener) Open(ctx context.Context, target domain.ServerTarget) (ExecutionChannel, error) {
	auth, err := authMethods(target)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User: target.User,
		Auth: auth,
		// Host key management is the collaborator's concern; targets are
		// operator-provisioned machines.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
		Timeout:         o.DialTimeout,
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", target.Address(), config)
		resultCh <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("ssh dial to %s interrupted: %w", target.Address(), ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			slog.Error("SSH connection failed",
				"layer", "executor",
				"operation", "ssh_dial",
				"target", target.Name,
				"address", target.Address(),
				"error", res.err)
			return nil, fmt.Errorf("failed to connect to %s (%s): %w", target.Name, target.Address(), res.err)
		}
		return &sshChannel{client: res.client, target: target.Name}, nil
	}
}

func authMethods(target domain.ServerTarget) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if target.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(target.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key for target %s: %w", target.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if target.Password != "" {
		methods = append(methods, ssh.Password(target.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("target %s has no SSH credentials", target.Name)
	}
	return methods, nil
}

type sshChannel struct {
	client *ssh.Client
	target string
}

func (c *sshChannel) Run(ctx context.Context, command string, out chan<- OutputLine) (int, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to open session on %s: %w", c.target, err)
	}
	// Close returns io.EOF when the session already finished; not worth logging.
	defer func() { _ = session.Close() }()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout pipe on %s: %w", c.target, err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stderr pipe on %s: %w", c.target, err)
	}

	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("failed to start command on %s: %w", c.target, err)
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

	// Interrupt the remote command on cancellation rather than just
	// abandoning the read loop.
	interrupt := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGTERM)
			_ = session.Close()
		case <-interrupt:
		}
	}()

	waitErr := session.Wait()
	wg.Wait()
	close(interrupt)

	if ctx.Err() != nil {
		return -1, fmt.Errorf("command on %s interrupted: %w", c.target, ctx.Err())
	}
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, fmt.Errorf("command on %s failed: %w", c.target, waitErr)
	}
	return 0, nil
}

func (c *sshChannel) Close() error {
	return c.client.Close()
}
