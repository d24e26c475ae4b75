// Package facts collects the post-patch observations that feed the monthly
// patching report: last reboot, running kernel, last package upgrade,
// antivirus database age, and whether Java workloads are running.
package facts

import (
	"context"
	"strings"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

// Collector gathers host facts over the connector. All lookups are
// best-effort: any failure records model.FactUnknown for that fact only.
type Collector struct {
	conn connector.Connector
}

func New(conn connector.Connector) *Collector {
	return &Collector{conn: conn}
}

func (c *Collector) Collect(ctx context.Context, host model.Host) model.HostFacts {
	f := model.HostFacts{
		LastReboot:         model.FactUnknown,
		Kernel:             model.FactUnknown,
		LastPackageUpgrade: model.FactUnknown,
		AVDatabaseUpdated:  model.FactUnknown,
	}

	if out, ok := c.capture(ctx, host, "uptime -s"); ok {
		f.LastReboot = out
	}
	if out, ok := c.capture(ctx, host, "uname -r"); ok {
		f.Kernel = out
	}
	if out, ok := c.capture(ctx, host, "dnf -q history list"); ok {
		if date := parseDNFHistoryDate(out); date != "" {
			f.LastPackageUpgrade = date
		}
	}
	// freshclam writes daily.cld normally, daily.cvd on fresh installs.
	for _, path := range []string{"/var/lib/clamav/daily.cld", "/var/lib/clamav/daily.cvd"} {
		if out, ok := c.capture(ctx, host, "stat -c %y "+path); ok {
			f.AVDatabaseUpdated = out
			break
		}
	}
	if res, err := c.conn.Execute(ctx, host, "pgrep -x java"); err == nil && res.ExitCode == 0 {
		f.JavaRunning = true
	}

	return f
}

// capture runs a command and returns its trimmed stdout, with ok=false on
// any transport error, non-zero exit, or empty output.
func (c *Collector) capture(ctx context.Context, host model.Host, command string) (string, bool) {
	res, err := c.conn.Execute(ctx, host, command)
	if err != nil || res.ExitCode != 0 {
		return "", false
	}
	out := strings.TrimSpace(res.Stdout)
	return out, out != ""
}

// parseDNFHistoryDate extracts the date column of the newest transaction
// from `dnf history list` output (ID | Command line | Date and time | ...).
func parseDNFHistoryDate(out string) string {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !isDigit(trimmed[0]) {
			continue
		}
		cols := strings.Split(trimmed, "|")
		if len(cols) < 3 {
			continue
		}
		return strings.TrimSpace(cols[2])
	}
	return ""
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
