// Package reboot drives the conditional reboot-and-wait step of the patch
// lifecycle. The coordinator advances through the phases not-started,
// requested, rebooting, waiting-reachable and ends reachable, timed-out or
// cancelled; phases only move forward.
package reboot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

// ErrTimedOut marks a host that never came back within the wait window.
var ErrTimedOut = errors.New("host did not return after reboot")

const (
	defaultWaitTimeout = 600 * time.Second
	defaultGrace       = 15 * time.Second
)

// Coordinator reboots a host when the patch outcome requires it, then
// blocks until the host is reachable again or the timeout expires.
type Coordinator struct {
	conn connector.Connector
	// WaitTimeout bounds the reachability wait after the reboot command.
	WaitTimeout time.Duration
	// Grace is how long to let the host actually go down before polling;
	// polling too early can observe the pre-reboot sshd and report false
	// success.
	Grace time.Duration
}

func New(conn connector.Connector) *Coordinator {
	return &Coordinator{conn: conn, WaitTimeout: defaultWaitTimeout, Grace: defaultGrace}
}

// Run is a no-op with zero connector calls when the outcome does not
// require a reboot. Otherwise it issues the reboot and waits. ErrTimedOut
// is terminal failure for the host.
func (c *Coordinator) Run(ctx context.Context, host model.Host, outcome model.PatchOutcome) (model.RebootOutcome, error) {
	if !outcome.RebootRequired {
		return model.RebootOutcome{State: model.RebootSkipped}, nil
	}

	start := time.Now()

	// Requested. The connection usually drops mid-command when the reboot
	// lands, so transport errors and the missing exit status are both
	// expected here; only cancellation is fatal.
	if _, err := c.conn.Execute(ctx, host, "systemctl reboot"); err != nil {
		if ctx.Err() != nil {
			return model.RebootOutcome{Attempted: true, State: model.RebootCancelled}, ctx.Err()
		}
		log.Printf("host %s: reboot command connection dropped (expected): %v", host.Name, err)
	}

	// Rebooting: let the host actually go down.
	select {
	case <-ctx.Done():
		return model.RebootOutcome{Attempted: true, State: model.RebootCancelled}, ctx.Err()
	case <-time.After(c.grace()):
	}

	// Waiting for reachability. Run cancellation is not a reachability
	// timeout; the two end in different states.
	if err := c.conn.WaitReachable(ctx, host, c.waitTimeout()); err != nil {
		outcome := model.RebootOutcome{
			Attempted:       true,
			State:           model.RebootTimedOut,
			DurationSeconds: time.Since(start).Seconds(),
		}
		if ctx.Err() != nil {
			outcome.State = model.RebootCancelled
			return outcome, ctx.Err()
		}
		return outcome, fmt.Errorf("%w: %v", ErrTimedOut, err)
	}

	now := time.Now()
	return model.RebootOutcome{
		Attempted:       true,
		State:           model.RebootReachable,
		DurationSeconds: now.Sub(start).Seconds(),
		ReachableAt:     &now,
	}, nil
}

func (c *Coordinator) waitTimeout() time.Duration {
	if c.WaitTimeout <= 0 {
		return defaultWaitTimeout
	}
	return c.WaitTimeout
}

func (c *Coordinator) grace() time.Duration {
	if c.Grace <= 0 {
		return defaultGrace
	}
	return c.Grace
}
