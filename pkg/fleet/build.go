package fleet

import (
	"fmt"

	"patch-fleet/pkg/config"
	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/facts"
	"patch-fleet/pkg/patch"
	"patch-fleet/pkg/postcheck"
	"patch-fleet/pkg/precheck"
	"patch-fleet/pkg/reboot"
)

// FromConfig assembles an orchestrator with the standard stages wired to
// the given connector.
func FromConfig(conn connector.Connector, cfg config.Config) (*Orchestrator, error) {
	executor, err := patch.New(conn, patch.Options{
		UpdateClass:   cfg.UpdateClass,
		Sentinel:      cfg.RebootSentinel,
		KernelPattern: cfg.KernelPackagePattern,
	})
	if err != nil {
		return nil, fmt.Errorf("patch executor: %w", err)
	}

	rebooter := reboot.New(conn)
	rebooter.WaitTimeout = cfg.RebootTimeout()
	rebooter.Grace = cfg.RebootGrace()

	o := &Orchestrator{
		Prechecks:   precheck.New(conn, cfg.Prechecks),
		Patcher:     executor,
		Rebooter:    rebooter,
		Postchecks:  postcheck.New(conn, cfg.Postchecks),
		Concurrency: cfg.Concurrency,
	}
	if cfg.Facts {
		o.Facts = facts.New(conn)
	}
	return o, nil
}
