// Package report renders and persists fleet run reports. JSON is the
// canonical machine-readable form; CSV and Markdown are the derived views
// used for the monthly patching report.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"patch-fleet/pkg/model"
)

var tableHeader = []string{
	"Host", "Status", "Changed", "Rebooted", "Kernel", "Last Reboot",
	"Prechecks", "Postchecks", "Error",
}

// WriteJSON writes the full report, indented, to w.
func WriteJSON(w io.Writer, rep model.FleetReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteCSV writes one row per host.
func WriteCSV(w io.Writer, rep model.FleetReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tableHeader); err != nil {
		return err
	}
	for _, h := range rep.Hosts {
		if err := cw.Write(hostRow(h)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMarkdown writes the report as a Markdown table, one row per host.
func WriteMarkdown(w io.Writer, rep model.FleetReport) error {
	fmt.Fprintf(w, "# Patching Report - %s\n\n", rep.StartedAt.Format("2006-01-02"))
	if rep.Cancelled {
		fmt.Fprintf(w, "**Run cancelled before completion.**\n\n")
	}

	for _, cell := range tableHeader {
		fmt.Fprintf(w, "| %s ", cell)
	}
	fmt.Fprint(w, "|\n")
	for range tableHeader {
		fmt.Fprint(w, "|---")
	}
	fmt.Fprint(w, "|\n")

	for _, h := range rep.Hosts {
		for _, cell := range hostRow(h) {
			fmt.Fprintf(w, "| %s ", markdownCell(cell))
		}
		fmt.Fprint(w, "|\n")
	}
	fmt.Fprintf(w, "\n%d hosts, %d failed\n", len(rep.Hosts), rep.Failed())
	return nil
}

func hostRow(h model.HostRunReport) []string {
	changed := "no"
	if h.Patch != nil && h.Patch.Changed {
		changed = strconv.Itoa(len(h.Patch.ChangedPackages)) + " pkgs"
	}
	rebooted := "no"
	if h.Reboot != nil && h.Reboot.Attempted {
		rebooted = string(h.Reboot.State)
	}
	kernel := model.FactUnknown
	lastReboot := model.FactUnknown
	if h.Facts != nil {
		kernel = h.Facts.Kernel
		lastReboot = h.Facts.LastReboot
	}
	return []string{
		h.Host.Name,
		string(h.Status),
		changed,
		rebooted,
		kernel,
		lastReboot,
		checkSummary(h.Prechecks),
		checkSummary(h.Postchecks),
		h.Error,
	}
}

// markdownCell keeps cell content from breaking the table: pipes are
// escaped and newlines collapsed.
func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func checkSummary(results []model.CheckResult) string {
	if len(results) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", model.CountPassed(results), len(results))
}
