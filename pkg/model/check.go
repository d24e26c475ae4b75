package model

// CheckResult is the outcome of one named precheck or postcheck. Immutable
// once produced; a run's checks are reported as an ordered slice.
type CheckResult struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Message  string  `json:"message,omitempty"`
	Observed float64 `json:"observed,omitempty"`
}

// AllPassed reports whether every check in the slice passed.
func AllPassed(results []CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// CountPassed returns how many checks passed.
func CountPassed(results []CheckResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}
