package patch

import (
	"context"
	"fmt"
	"strings"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

// Update classes accepted by ApplyUpdates.
const (
	ClassAll      = "all"
	ClassSecurity = "security"
	ClassBugfix   = "bugfix"
)

// ApplyResult is what the package-manager boundary reports back after an
// update attempt.
type ApplyResult struct {
	Changed  bool
	Packages []string
	ExitCode int
	Output   string
}

// Manager abstracts the target host's package manager.
type Manager interface {
	Refresh(ctx context.Context, host model.Host) error
	ApplyUpdates(ctx context.Context, host model.Host, class string) (ApplyResult, error)
}

// DNF drives dnf over the connector. The default Manager for Rocky hosts.
type DNF struct {
	conn connector.Connector
}

func NewDNF(conn connector.Connector) *DNF {
	return &DNF{conn: conn}
}

func (d *DNF) Refresh(ctx context.Context, host model.Host) error {
	res, err := d.conn.Execute(ctx, host, "dnf -y makecache")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("dnf makecache exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (d *DNF) ApplyUpdates(ctx context.Context, host model.Host, class string) (ApplyResult, error) {
	cmd := "dnf -y upgrade"
	switch class {
	case ClassSecurity:
		cmd += " --security"
	case ClassBugfix:
		cmd += " --bugfix"
	case ClassAll, "":
	default:
		return ApplyResult{}, fmt.Errorf("unknown update class %q", class)
	}

	res, err := d.conn.Execute(ctx, host, cmd)
	if err != nil {
		return ApplyResult{}, err
	}
	out := res.Stdout
	pkgs := parseChangedPackages(out)
	return ApplyResult{
		Changed:  res.ExitCode == 0 && len(pkgs) > 0,
		Packages: pkgs,
		ExitCode: res.ExitCode,
		Output:   out,
	}, nil
}

// parseChangedPackages pulls package names out of the Upgraded:/Installed:
// sections of dnf transaction output. "Nothing to do." runs yield none.
func parseChangedPackages(out string) []string {
	var pkgs []string
	inSection := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "Upgraded:" || trimmed == "Installed:":
			inSection = true
		case inSection && strings.HasPrefix(line, " "):
			// Section bodies are indented, possibly several names per line.
			pkgs = append(pkgs, strings.Fields(trimmed)...)
		default:
			inSection = false
		}
	}
	return pkgs
}
