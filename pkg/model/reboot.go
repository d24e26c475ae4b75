package model

import "time"

// RebootState is the terminal state of the reboot coordinator for a host.
type RebootState string

const (
	RebootSkipped   RebootState = "skipped"
	RebootReachable RebootState = "reachable"
	RebootTimedOut  RebootState = "timed_out"
	RebootCancelled RebootState = "cancelled"
)

// RebootOutcome records whether a reboot was attempted, how it ended, and
// how long the host took to come back.
type RebootOutcome struct {
	Attempted       bool        `json:"attempted"`
	State           RebootState `json:"state"`
	DurationSeconds float64     `json:"durationSeconds,omitempty"`
	ReachableAt     *time.Time  `json:"reachableAt,omitempty"`
}
