package connector

import (
	"context"
	"errors"
	"time"

	"patch-fleet/pkg/model"
)

// ErrUnreachable is wrapped by Execute when the transport cannot reach the
// host at all. Callers treat it as recoverable at host granularity.
var ErrUnreachable = errors.New("host unreachable")

// ErrWaitTimeout is returned by WaitReachable when the host did not come
// back within the allowed window.
var ErrWaitTimeout = errors.New("timed out waiting for host")

// Result is the captured output of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Connector runs commands on remote hosts and polls for reachability.
// Execute returns a non-nil error only for transport failures (wrapping
// ErrUnreachable) or context cancellation; a command that ran and exited
// non-zero is reported through Result.ExitCode with a nil error. No retries
// happen below this interface; the caller owns retry policy.
type Connector interface {
	Execute(ctx context.Context, host model.Host, command string) (Result, error)
	WaitReachable(ctx context.Context, host model.Host, timeout time.Duration) error
}
