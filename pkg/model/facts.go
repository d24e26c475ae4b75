package model

// FactUnknown is recorded when a fact could not be collected.
const FactUnknown = "n/a"

// HostFacts are best-effort post-patch observations used for the monthly
// report. Collection failures fill FactUnknown and never fail the host.
type HostFacts struct {
	LastReboot         string `json:"lastReboot"`
	Kernel             string `json:"kernel"`
	LastPackageUpgrade string `json:"lastPackageUpgrade"`
	AVDatabaseUpdated  string `json:"avDatabaseUpdated"`
	JavaRunning        bool   `json:"javaRunning"`
}
