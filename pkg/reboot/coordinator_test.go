package reboot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

func fastCoordinator(conn connector.Connector) *Coordinator {
	c := New(conn)
	c.Grace = time.Millisecond
	c.WaitTimeout = time.Second
	return c
}

func TestSkipWhenNoRebootRequired(t *testing.T) {
	conn := &connector.Fake{}
	c := New(conn)

	outcome, err := c.Run(context.Background(), model.Host{Name: "web1"}, model.PatchOutcome{RebootRequired: false})
	require.NoError(t, err)
	assert.False(t, outcome.Attempted)
	assert.Equal(t, model.RebootSkipped, outcome.State)
	// A skipped reboot performs zero connector calls.
	assert.Empty(t, conn.Calls())
}

func TestRebootAndWaitReachable(t *testing.T) {
	conn := &connector.Fake{}
	c := fastCoordinator(conn)

	outcome, err := c.Run(context.Background(), model.Host{Name: "web1"}, model.PatchOutcome{RebootRequired: true})
	require.NoError(t, err)
	assert.True(t, outcome.Attempted)
	assert.Equal(t, model.RebootReachable, outcome.State)
	require.NotNil(t, outcome.ReachableAt)
	assert.GreaterOrEqual(t, outcome.DurationSeconds, 0.0)

	calls := conn.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "systemctl reboot", calls[0].Command)
	assert.Equal(t, "", calls[1].Command) // WaitReachable
}

func TestConnectionDropDuringRebootIsExpected(t *testing.T) {
	conn := &connector.Fake{
		ExecuteFunc: func(_ context.Context, _ model.Host, _ string) (connector.Result, error) {
			return connector.Result{}, fmt.Errorf("%w: connection closed", connector.ErrUnreachable)
		},
	}
	c := fastCoordinator(conn)

	outcome, err := c.Run(context.Background(), model.Host{Name: "web1"}, model.PatchOutcome{RebootRequired: true})
	require.NoError(t, err)
	assert.Equal(t, model.RebootReachable, outcome.State)
}

func TestWaitTimeoutIsTerminalFailure(t *testing.T) {
	conn := &connector.Fake{
		WaitReachableFunc: func(_ context.Context, _ model.Host, timeout time.Duration) error {
			return fmt.Errorf("%w after %s", connector.ErrWaitTimeout, timeout)
		},
	}
	c := fastCoordinator(conn)

	outcome, err := c.Run(context.Background(), model.Host{Name: "web1"}, model.PatchOutcome{RebootRequired: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.True(t, outcome.Attempted)
	assert.Equal(t, model.RebootTimedOut, outcome.State)
	assert.Nil(t, outcome.ReachableAt)
}

func TestCancellationDuringGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connector.Fake{}
	c := fastCoordinator(conn)
	c.Grace = time.Minute

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	outcome, err := c.Run(ctx, model.Host{Name: "web1"}, model.PatchOutcome{RebootRequired: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, outcome.Attempted)
	// Cancellation is not a reachability timeout.
	assert.Equal(t, model.RebootCancelled, outcome.State)
}

func TestCancellationDuringWaitIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connector.Fake{
		WaitReachableFunc: func(waitCtx context.Context, _ model.Host, _ time.Duration) error {
			cancel()
			<-waitCtx.Done()
			return waitCtx.Err()
		},
	}
	c := fastCoordinator(conn)

	outcome, err := c.Run(ctx, model.Host{Name: "web1"}, model.PatchOutcome{RebootRequired: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, model.RebootCancelled, outcome.State)
}
