package api

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"patch-fleet/pkg/fleet"
	"patch-fleet/pkg/model"
)

// ErrRunInProgress is returned when a fleet run is requested while one is
// already active. The controller runs at most one at a time.
var ErrRunInProgress = errors.New("fleet run already in progress")

// RunStore persists finished runs; satisfied by *report.Store.
type RunStore interface {
	SaveRun(rep model.FleetReport) (uint, error)
}

// Runner executes fleet runs on behalf of the API, streaming progress to
// the hub and persisting the result.
type Runner struct {
	// Run executes one fleet run; progress may be nil.
	Run func(ctx context.Context, progress func(fleet.Event)) model.FleetReport

	Hub   *WSHub
	Store RunStore

	inProgress atomic.Bool
}

// Start launches a run in the background. Returns ErrRunInProgress if one
// is already active.
func (r *Runner) Start(ctx context.Context) error {
	if !r.inProgress.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		defer r.inProgress.Store(false)

		r.broadcast(WSMessage{Type: "run_started"})
		rep := r.Run(ctx, func(ev fleet.Event) {
			r.broadcast(WSMessage{Type: "host_progress", Event: &ev})
		})

		var id uint
		if r.Store != nil {
			var err error
			if id, err = r.Store.SaveRun(rep); err != nil {
				log.Printf("persist run failed: %v", err)
			}
		}
		log.Printf("fleet run finished: %d hosts, %d failed", len(rep.Hosts), rep.Failed())
		r.broadcast(WSMessage{Type: "run_finished", RunID: id})
	}()
	return nil
}

// Active reports whether a run is currently executing.
func (r *Runner) Active() bool { return r.inProgress.Load() }

func (r *Runner) broadcast(msg WSMessage) {
	if r.Hub != nil {
		r.Hub.Broadcast(msg)
	}
}
