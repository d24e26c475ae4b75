package model

import "time"

// HostRunReport aggregates everything observed for one host during a fleet
// run. It is created at dispatch, appended to through the lifecycle, and
// never modified after the host reaches a terminal status.
type HostRunReport struct {
	Host       Host           `json:"host"`
	Status     HostStatus     `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Prechecks  []CheckResult  `json:"prechecks,omitempty"`
	Patch      *PatchOutcome  `json:"patch,omitempty"`
	Reboot     *RebootOutcome `json:"reboot,omitempty"`
	Postchecks []CheckResult  `json:"postchecks,omitempty"`
	Facts      *HostFacts     `json:"facts,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// FleetReport is the aggregate of one fleet run. Hosts holds one report per
// dispatched host in dispatch order, regardless of completion order or
// individual failures.
type FleetReport struct {
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Cancelled  bool            `json:"cancelled,omitempty"`
	Hosts      []HostRunReport `json:"hosts"`
}

// Failed returns how many hosts ended in the failed status.
func (r FleetReport) Failed() int {
	n := 0
	for _, h := range r.Hosts {
		if h.Status == StatusFailed {
			n++
		}
	}
	return n
}
