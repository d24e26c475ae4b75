package model

// Reboot reasons recorded in PatchOutcome when a reboot is required.
const (
	RebootReasonSentinel      = "sentinel-file"
	RebootReasonKernelPackage = "kernel-package"
)

// PatchOutcome captures the result of applying updates on one host.
// RebootRequired is derived from the reboot sentinel file (primary) or a
// kernel package among the changes (fallback); RebootReason records which.
type PatchOutcome struct {
	Changed         bool     `json:"changed"`
	ExitCode        int      `json:"exitCode"`
	Summary         string   `json:"summary,omitempty"`
	ChangedPackages []string `json:"changedPackages,omitempty"`
	RebootRequired  bool     `json:"rebootRequired"`
	RebootReason    string   `json:"rebootReason,omitempty"`
}
