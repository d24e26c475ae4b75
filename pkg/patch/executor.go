// Package patch applies pending updates on a host and decides whether the
// host must reboot afterwards.
package patch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

// ErrApplyFailed marks a non-zero package manager exit. Fatal for the host's
// remaining lifecycle, harmless to the rest of the fleet.
var ErrApplyFailed = errors.New("update apply failed")

const (
	defaultSentinel      = "/var/run/reboot-required"
	defaultKernelPattern = `^kernel`
)

// Options tunes the executor. Zero values get Rocky-appropriate defaults.
type Options struct {
	// Manager overrides the package-manager boundary; defaults to DNF
	// over the connector.
	Manager Manager
	// UpdateClass is one of all, security, bugfix.
	UpdateClass string
	// Sentinel is the reboot marker file checked first.
	Sentinel string
	// KernelPattern matches changed package names that imply a reboot
	// when no sentinel exists. Best-effort fallback; the sentinel wins.
	KernelPattern string
}

// Executor runs refresh + apply and derives reboot necessity.
type Executor struct {
	conn     connector.Connector
	mgr      Manager
	class    string
	sentinel string
	kernelRe *regexp.Regexp
}

func New(conn connector.Connector, opts Options) (*Executor, error) {
	mgr := opts.Manager
	if mgr == nil {
		mgr = NewDNF(conn)
	}
	sentinel := opts.Sentinel
	if sentinel == "" {
		sentinel = defaultSentinel
	}
	pattern := opts.KernelPattern
	if pattern == "" {
		pattern = defaultKernelPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("kernel package pattern: %w", err)
	}
	class := opts.UpdateClass
	if class == "" {
		class = ClassAll
	}
	return &Executor{conn: conn, mgr: mgr, class: class, sentinel: sentinel, kernelRe: re}, nil
}

// Run refreshes the package index, applies updates, and fills a
// PatchOutcome. An already-patched host yields Changed=false and no reboot
// requirement, so repeated runs are idempotent. A non-zero apply exit
// returns the outcome together with ErrApplyFailed.
func (e *Executor) Run(ctx context.Context, host model.Host) (model.PatchOutcome, error) {
	if err := e.mgr.Refresh(ctx, host); err != nil {
		return model.PatchOutcome{}, fmt.Errorf("refresh index: %w", err)
	}

	applied, err := e.mgr.ApplyUpdates(ctx, host, e.class)
	if err != nil {
		return model.PatchOutcome{}, fmt.Errorf("apply updates: %w", err)
	}

	outcome := model.PatchOutcome{
		Changed:         applied.Changed,
		ExitCode:        applied.ExitCode,
		ChangedPackages: applied.Packages,
		Summary:         summarize(applied),
	}
	if applied.ExitCode != 0 {
		return outcome, fmt.Errorf("%w: exit %d", ErrApplyFailed, applied.ExitCode)
	}

	required, reason, err := e.rebootRequired(ctx, host, applied.Packages)
	if err != nil {
		return outcome, err
	}
	outcome.RebootRequired = required
	outcome.RebootReason = reason
	return outcome, nil
}

// rebootRequired checks the sentinel file first and falls back to the
// kernel package-name heuristic. The two can disagree; the sentinel is
// authoritative when present.
func (e *Executor) rebootRequired(ctx context.Context, host model.Host, changed []string) (bool, string, error) {
	res, err := e.conn.Execute(ctx, host, "test -f "+e.sentinel)
	if err != nil {
		return false, "", fmt.Errorf("check reboot sentinel: %w", err)
	}
	if res.ExitCode == 0 {
		return true, model.RebootReasonSentinel, nil
	}
	for _, pkg := range changed {
		if e.kernelRe.MatchString(pkg) {
			return true, model.RebootReasonKernelPackage, nil
		}
	}
	return false, "", nil
}

func summarize(r ApplyResult) string {
	if r.ExitCode != 0 {
		return fmt.Sprintf("update failed with exit %d", r.ExitCode)
	}
	if !r.Changed {
		return "no updates available"
	}
	return fmt.Sprintf("%d packages changed: %s", len(r.Packages), strings.Join(r.Packages, " "))
}
