// Package fleet runs the per-host patch lifecycle (precheck, patch, reboot,
// postcheck) across many hosts concurrently with per-host fault isolation.
package fleet

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"patch-fleet/pkg/model"
)

// Prechecker gates a host on live metrics. The error is non-nil only when
// the host itself was lost.
type Prechecker interface {
	Run(ctx context.Context, host model.Host) ([]model.CheckResult, error)
}

// Patcher applies updates and reports the outcome.
type Patcher interface {
	Run(ctx context.Context, host model.Host) (model.PatchOutcome, error)
}

// Rebooter conditionally reboots and waits for the host to return.
type Rebooter interface {
	Run(ctx context.Context, host model.Host, outcome model.PatchOutcome) (model.RebootOutcome, error)
}

// Postchecker verifies host health after patching.
type Postchecker interface {
	Run(ctx context.Context, host model.Host) []model.CheckResult
}

// FactCollector gathers report facts from a healthy host.
type FactCollector interface {
	Collect(ctx context.Context, host model.Host) model.HostFacts
}

// Event is a progress notification emitted as hosts move through the
// lifecycle.
type Event struct {
	Host    string           `json:"host"`
	Status  model.HostStatus `json:"status"`
	Message string           `json:"message,omitempty"`
	Time    time.Time        `json:"time"`
}

// Orchestrator wires the lifecycle stages together. Facts and OnProgress
// are optional. Concurrency 0 means unbounded up to the host count.
type Orchestrator struct {
	Prechecks  Prechecker
	Patcher    Patcher
	Rebooter   Rebooter
	Postchecks Postchecker
	Facts      FactCollector

	Concurrency int
	OnProgress  func(Event)
}

// Run dispatches the lifecycle for every host and returns one report per
// host in dispatch order. No host's failure affects any other host; the
// report slice always has exactly len(hosts) entries. Cancel the context
// to abandon in-flight hosts (they are marked failed with the cancellation
// reason; hosts already terminal keep their reports).
func (o *Orchestrator) Run(ctx context.Context, hosts []model.Host) model.FleetReport {
	report := model.FleetReport{
		StartedAt: time.Now(),
		Hosts:     make([]model.HostRunReport, len(hosts)),
	}

	// One slot per host, reserved at dispatch time: workers write disjoint
	// indices, so completion order cannot reorder the report.
	var g errgroup.Group
	if o.Concurrency > 0 {
		g.SetLimit(o.Concurrency)
	}
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			report.Hosts[i] = o.runHost(ctx, host)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	report.Cancelled = ctx.Err() != nil
	return report
}

func (o *Orchestrator) runHost(ctx context.Context, host model.Host) model.HostRunReport {
	rep := model.HostRunReport{
		Host:      host,
		Status:    model.StatusPending,
		StartedAt: time.Now(),
	}

	advance := func(status model.HostStatus, msg string) {
		rep.Status = status
		o.emit(Event{Host: host.Name, Status: status, Message: msg, Time: time.Now()})
	}
	fail := func(format string, args ...interface{}) model.HostRunReport {
		rep.Error = fmt.Sprintf(format, args...)
		rep.Status = model.StatusFailed
		rep.FinishedAt = time.Now()
		log.Printf("host %s: failed: %s", host.Name, rep.Error)
		o.emit(Event{Host: host.Name, Status: model.StatusFailed, Message: rep.Error, Time: time.Now()})
		return rep
	}
	cancelled := func() bool { return ctx.Err() != nil }

	if cancelled() {
		return fail("run cancelled: %v", ctx.Err())
	}

	advance(model.StatusChecking, "running preconditions")
	prechecks, err := o.Prechecks.Run(ctx, host)
	rep.Prechecks = prechecks
	if err != nil {
		return fail("precheck: %v", err)
	}
	if !model.AllPassed(prechecks) {
		// Expected outcome, not a system error: report and stop here.
		return fail("preconditions not met (%d/%d passed)", model.CountPassed(prechecks), len(prechecks))
	}
	if cancelled() {
		return fail("run cancelled: %v", ctx.Err())
	}

	advance(model.StatusPatching, "applying updates")
	outcome, err := o.Patcher.Run(ctx, host)
	rep.Patch = &outcome
	if err != nil {
		return fail("patch: %v", err)
	}
	if cancelled() {
		return fail("run cancelled: %v", ctx.Err())
	}

	advance(model.StatusRebooting, rebootMessage(outcome))
	rebootOutcome, err := o.Rebooter.Run(ctx, host, outcome)
	rep.Reboot = &rebootOutcome
	if err != nil {
		return fail("reboot: %v", err)
	}
	if cancelled() {
		return fail("run cancelled: %v", ctx.Err())
	}

	advance(model.StatusVerifying, "running postconditions")
	rep.Postchecks = o.Postchecks.Run(ctx, host)
	if o.Facts != nil {
		f := o.Facts.Collect(ctx, host)
		rep.Facts = &f
	}
	// Postchecks absorb per-check errors, so a cancellation that landed
	// mid-stage surfaces only here.
	if cancelled() {
		return fail("run cancelled: %v", ctx.Err())
	}

	rep.Status = model.StatusDone
	rep.FinishedAt = time.Now()
	o.emit(Event{Host: host.Name, Status: model.StatusDone, Time: time.Now()})
	return rep
}

func (o *Orchestrator) emit(ev Event) {
	if o.OnProgress != nil {
		o.OnProgress(ev)
	}
}

func rebootMessage(outcome model.PatchOutcome) string {
	if !outcome.RebootRequired {
		return "reboot not required"
	}
	return "reboot required (" + outcome.RebootReason + ")"
}
