package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patch-fleet/pkg/model"
)

// Stage fakes. Each is configurable per host name.

type fakePrechecks struct {
	unreachable map[string]bool
	failing     map[string]bool
}

func (f *fakePrechecks) Run(_ context.Context, host model.Host) ([]model.CheckResult, error) {
	if f.unreachable[host.Name] {
		return nil, fmt.Errorf("precheck disk_free_percent: host unreachable")
	}
	if f.failing[host.Name] {
		return []model.CheckResult{
			{Name: "disk_free_percent", Passed: false, Message: "5% free, below minimum 10%"},
			{Name: "load_avg_1m", Passed: true},
		}, nil
	}
	return []model.CheckResult{{Name: "disk_free_percent", Passed: true}}, nil
}

type fakePatcher struct {
	mu       sync.Mutex
	calls    []string
	reboot   map[string]bool
	failing  map[string]bool
	patched  map[string]bool // becomes true after first run, making later runs no-ops
	tracking bool
}

func (f *fakePatcher) Run(_ context.Context, host model.Host) (model.PatchOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, host.Name)
	already := f.tracking && f.patched[host.Name]
	if f.tracking {
		if f.patched == nil {
			f.patched = map[string]bool{}
		}
		f.patched[host.Name] = true
	}
	f.mu.Unlock()

	if f.failing[host.Name] {
		return model.PatchOutcome{ExitCode: 1, Summary: "update failed with exit 1"},
			fmt.Errorf("apply updates: exit 1")
	}
	if already {
		return model.PatchOutcome{Changed: false, Summary: "no updates available"}, nil
	}
	out := model.PatchOutcome{Changed: true, ChangedPackages: []string{"openssl-3.0.7"}}
	if f.reboot[host.Name] {
		out.RebootRequired = true
		out.RebootReason = model.RebootReasonKernelPackage
	}
	return out, nil
}

type fakeRebooter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeRebooter) Run(_ context.Context, host model.Host, outcome model.PatchOutcome) (model.RebootOutcome, error) {
	if !outcome.RebootRequired {
		return model.RebootOutcome{State: model.RebootSkipped}, nil
	}
	f.mu.Lock()
	f.calls = append(f.calls, host.Name)
	f.mu.Unlock()
	if f.fail[host.Name] {
		return model.RebootOutcome{Attempted: true, State: model.RebootTimedOut},
			fmt.Errorf("host did not return after reboot")
	}
	now := time.Now()
	return model.RebootOutcome{Attempted: true, State: model.RebootReachable, ReachableAt: &now}, nil
}

type fakePostchecks struct{}

func (fakePostchecks) Run(_ context.Context, _ model.Host) []model.CheckResult {
	return []model.CheckResult{{Name: "service_nginx", Passed: true}}
}

func hostList(names ...string) []model.Host {
	hosts := make([]model.Host, len(names))
	for i, n := range names {
		hosts[i] = model.Host{Name: n, Addr: "10.0.0." + fmt.Sprint(i+1)}
	}
	return hosts
}

func newOrchestrator() (*Orchestrator, *fakePatcher, *fakeRebooter) {
	patcher := &fakePatcher{}
	rebooter := &fakeRebooter{}
	o := &Orchestrator{
		Prechecks:  &fakePrechecks{},
		Patcher:    patcher,
		Rebooter:   rebooter,
		Postchecks: fakePostchecks{},
	}
	return o, patcher, rebooter
}

func TestOneReportPerDispatchedHost(t *testing.T) {
	o, _, _ := newOrchestrator()
	hosts := hostList("web1", "web2", "web3", "web4", "web5")

	rep := o.Run(context.Background(), hosts)
	require.Len(t, rep.Hosts, len(hosts))
	for i, h := range hosts {
		assert.Equal(t, h.Name, rep.Hosts[i].Host.Name)
		assert.Equal(t, model.StatusDone, rep.Hosts[i].Status)
	}
}

func TestReportPreservesDispatchOrderUnderConcurrency(t *testing.T) {
	o, _, _ := newOrchestrator()
	o.Concurrency = 3
	var names []string
	for i := 0; i < 20; i++ {
		names = append(names, fmt.Sprintf("host%02d", i))
	}

	rep := o.Run(context.Background(), hostList(names...))
	require.Len(t, rep.Hosts, 20)
	for i, n := range names {
		assert.Equal(t, n, rep.Hosts[i].Host.Name)
	}
}

func TestFaultIsolationUnreachableHost(t *testing.T) {
	o, _, _ := newOrchestrator()
	o.Prechecks = &fakePrechecks{unreachable: map[string]bool{"web2": true}}
	hosts := hostList("web1", "web2", "web3")

	rep := o.Run(context.Background(), hosts)
	require.Len(t, rep.Hosts, 3)

	assert.Equal(t, model.StatusDone, rep.Hosts[0].Status)
	assert.Equal(t, model.StatusFailed, rep.Hosts[1].Status)
	assert.Contains(t, rep.Hosts[1].Error, "unreachable")
	assert.Equal(t, model.StatusDone, rep.Hosts[2].Status)
}

func TestPrecheckFailureStopsLifecycle(t *testing.T) {
	o, patcher, _ := newOrchestrator()
	o.Prechecks = &fakePrechecks{failing: map[string]bool{"web1": true}}

	rep := o.Run(context.Background(), hostList("web1"))
	require.Len(t, rep.Hosts, 1)
	h := rep.Hosts[0]

	assert.Equal(t, model.StatusFailed, h.Status)
	// Precheck results are reported even though the host went no further.
	require.Len(t, h.Prechecks, 2)
	assert.Nil(t, h.Patch)
	assert.Nil(t, h.Reboot)
	assert.Empty(t, h.Postchecks)
	assert.Empty(t, patcher.calls)
}

func TestRebootInvokedIffRequired(t *testing.T) {
	o, _, rebooter := newOrchestrator()
	o.Patcher = &fakePatcher{reboot: map[string]bool{"web1": true}}

	rep := o.Run(context.Background(), hostList("web1", "web2"))
	require.Len(t, rep.Hosts, 2)

	assert.Equal(t, []string{"web1"}, rebooter.calls)
	require.NotNil(t, rep.Hosts[0].Reboot)
	assert.Equal(t, model.RebootReachable, rep.Hosts[0].Reboot.State)
	require.NotNil(t, rep.Hosts[1].Reboot)
	assert.Equal(t, model.RebootSkipped, rep.Hosts[1].Reboot.State)
	assert.False(t, rep.Hosts[1].Reboot.Attempted)
}

func TestSecondRunNeverReboots(t *testing.T) {
	patcher := &fakePatcher{reboot: map[string]bool{"web1": true}, tracking: true}
	rebooter := &fakeRebooter{}
	o := &Orchestrator{
		Prechecks:  &fakePrechecks{},
		Patcher:    patcher,
		Rebooter:   rebooter,
		Postchecks: fakePostchecks{},
	}
	hosts := hostList("web1")

	first := o.Run(context.Background(), hosts)
	require.True(t, first.Hosts[0].Patch.Changed)
	require.Equal(t, []string{"web1"}, rebooter.calls)

	second := o.Run(context.Background(), hosts)
	assert.False(t, second.Hosts[0].Patch.Changed)
	// No new reboot on the idempotent second run.
	assert.Equal(t, []string{"web1"}, rebooter.calls)
}

func TestPatchFailureExcludesLaterStages(t *testing.T) {
	o, _, rebooter := newOrchestrator()
	o.Patcher = &fakePatcher{failing: map[string]bool{"web1": true}}

	rep := o.Run(context.Background(), hostList("web1", "web2"))

	h := rep.Hosts[0]
	assert.Equal(t, model.StatusFailed, h.Status)
	require.NotNil(t, h.Patch)
	assert.Equal(t, 1, h.Patch.ExitCode)
	assert.Nil(t, h.Reboot)
	assert.Empty(t, h.Postchecks)
	assert.Empty(t, rebooter.calls)

	assert.Equal(t, model.StatusDone, rep.Hosts[1].Status)
}

func TestRebootTimeoutFailsHostOnly(t *testing.T) {
	o, _, _ := newOrchestrator()
	o.Patcher = &fakePatcher{reboot: map[string]bool{"web1": true, "web2": true}}
	o.Rebooter = &fakeRebooter{fail: map[string]bool{"web1": true}}

	rep := o.Run(context.Background(), hostList("web1", "web2"))

	assert.Equal(t, model.StatusFailed, rep.Hosts[0].Status)
	assert.Empty(t, rep.Hosts[0].Postchecks)
	assert.Equal(t, model.StatusDone, rep.Hosts[1].Status)
	require.Len(t, rep.Hosts[1].Postchecks, 1)
}

func TestCancellationMarksRemainingHostsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan string, 3)
	o, _, _ := newOrchestrator()
	o.Concurrency = 1
	o.Prechecks = notifyPrechecks{started: started}

	done := make(chan model.FleetReport, 1)
	go func() { done <- o.Run(ctx, hostList("web1", "web2", "web3")) }()

	// With concurrency 1, web2 starting means web1 finished. Cancel while
	// web2 is in flight; web3 has not been dispatched yet.
	require.Equal(t, "web1", <-started)
	require.Equal(t, "web2", <-started)
	cancel()

	rep := <-done
	require.Len(t, rep.Hosts, 3)
	assert.True(t, rep.Cancelled)
	assert.Equal(t, model.StatusDone, rep.Hosts[0].Status)
	for _, h := range rep.Hosts[1:] {
		assert.Equal(t, model.StatusFailed, h.Status)
		assert.Contains(t, h.Error, "cancel")
	}
}

func TestCancellationDuringPostchecksFailsHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, _, _ := newOrchestrator()
	o.Postchecks = cancellingPostchecks{cancel: cancel}

	rep := o.Run(ctx, hostList("web1"))
	require.Len(t, rep.Hosts, 1)
	assert.True(t, rep.Cancelled)

	h := rep.Hosts[0]
	assert.Equal(t, model.StatusFailed, h.Status)
	assert.Contains(t, h.Error, "cancel")
	// The check results gathered before cancellation are still reported.
	require.Len(t, h.Postchecks, 1)
}

// cancellingPostchecks cancels the run mid-stage, the way a run timeout
// firing during verification would.
type cancellingPostchecks struct {
	cancel context.CancelFunc
}

func (c cancellingPostchecks) Run(_ context.Context, _ model.Host) []model.CheckResult {
	c.cancel()
	return []model.CheckResult{{Name: "service_nginx", Passed: false, Message: "context canceled"}}
}

// notifyPrechecks announces each host it sees; web1 passes immediately,
// every other host blocks until cancellation.
type notifyPrechecks struct {
	started chan string
}

func (n notifyPrechecks) Run(ctx context.Context, host model.Host) ([]model.CheckResult, error) {
	n.started <- host.Name
	if host.Name == "web1" {
		return []model.CheckResult{{Name: "disk_free_percent", Passed: true}}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProgressEventsEmitted(t *testing.T) {
	o, _, _ := newOrchestrator()
	var mu sync.Mutex
	var statuses []model.HostStatus
	o.OnProgress = func(ev Event) {
		mu.Lock()
		statuses = append(statuses, ev.Status)
		mu.Unlock()
	}

	o.Run(context.Background(), hostList("web1"))

	require.Equal(t, []model.HostStatus{
		model.StatusChecking,
		model.StatusPatching,
		model.StatusRebooting,
		model.StatusVerifying,
		model.StatusDone,
	}, statuses)
}

func TestStatusNeverMovesBackward(t *testing.T) {
	order := map[model.HostStatus]int{
		model.StatusPending:   0,
		model.StatusChecking:  1,
		model.StatusPatching:  2,
		model.StatusRebooting: 3,
		model.StatusVerifying: 4,
		model.StatusDone:      5,
		model.StatusFailed:    5,
	}

	o, _, _ := newOrchestrator()
	o.Patcher = &fakePatcher{reboot: map[string]bool{"web1": true}}
	last := -1
	o.OnProgress = func(ev Event) {
		rank, ok := order[ev.Status]
		require.True(t, ok, "unknown status %s", ev.Status)
		require.Greater(t, rank, last)
		last = rank
	}

	o.Run(context.Background(), hostList("web1"))
	assert.Equal(t, 5, last)
}
