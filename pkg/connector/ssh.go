package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"patch-fleet/pkg/model"
)

const reachablePollInterval = 5 * time.Second

// SSH executes commands over the SSH transport. Each call dials a fresh
// connection; sessions do not survive the reboots this tool causes anyway.
type SSH struct {
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// NewSSH returns an SSH connector with the given per-attempt dial timeout.
func NewSSH(dialTimeout time.Duration) *SSH {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &SSH{DialTimeout: dialTimeout}
}

func (s *SSH) Execute(ctx context.Context, host model.Host, command string) (Result, error) {
	client, err := s.dial(ctx, host)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: new session: %v", ErrUnreachable, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Run in a goroutine so context cancellation is honored; ssh sessions
	// have no native context support.
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Result{}, ctx.Err()
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			// Connection dropped before the exit status arrived. Happens
			// when the command reboots the host out from under us.
			res.ExitCode = -1
			return res, nil
		}
		return res, fmt.Errorf("%w: run: %v", ErrUnreachable, err)
	}
	return res, nil
}

// WaitReachable polls the host until an SSH handshake succeeds or the
// timeout window closes.
func (s *SSH) WaitReachable(ctx context.Context, host model.Host, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, s.DialTimeout)
		client, err := s.dial(attemptCtx, host)
		cancel()
		if err == nil {
			_ = client.Close()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reachablePollInterval):
		}
	}
}

func (s *SSH) dial(ctx context.Context, host model.Host) (*ssh.Client, error) {
	cfg, err := s.clientConfig(host)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: s.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, host.Address(), err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host.Address(), cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrUnreachable, host.Address(), err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// expandHome resolves a leading ~ so key paths can be written the way
// operators write them in the config file.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

func (s *SSH) clientConfig(host model.Host) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if host.KeyFile != "" {
		path, err := expandHome(host.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("key path %s: %w", host.KeyFile, err)
		}
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", path, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", path, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if host.Password != "" {
		methods = append(methods, ssh.Password(host.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("host %s: no key file or password configured", host.Name)
	}

	user := host.User
	if user == "" {
		user = "root"
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.DialTimeout,
	}, nil
}
