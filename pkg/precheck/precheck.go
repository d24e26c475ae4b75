// Package precheck gates patching on live host metrics: disk space, free
// memory, load average, and process count. All checks run and report even
// when earlier ones fail; only losing the host itself short-circuits.
package precheck

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

// Thresholds configures the precondition gates. Zero values disable the
// corresponding check.
type Thresholds struct {
	DiskFreePercentMin int     `yaml:"disk_free_percent_min" json:"diskFreePercentMin"`
	MemFreeMBMin       int     `yaml:"mem_free_mb_min" json:"memFreeMbMin"`
	LoadAvg1mMax       float64 `yaml:"load_avg_1m_max" json:"loadAvg1mMax"`
	MaxProcessCount    int     `yaml:"max_process_count" json:"maxProcessCount"`
}

// Evaluator collects one metric per check over the connector and compares
// it against the configured thresholds.
type Evaluator struct {
	conn       connector.Connector
	thresholds Thresholds
}

func New(conn connector.Connector, thresholds Thresholds) *Evaluator {
	return &Evaluator{conn: conn, thresholds: thresholds}
}

type check struct {
	name    string
	command string
	eval    func(t Thresholds, stdout string) model.CheckResult
}

var checks = []check{
	{
		name:    "disk_free_percent",
		command: "df -P -k /",
		eval: func(t Thresholds, out string) model.CheckResult {
			avail, total, err := parseDF(out)
			if err != nil {
				return failf("disk_free_percent", "parse df output: %v", err)
			}
			return diskCheck(avail, total, t.DiskFreePercentMin)
		},
	},
	{
		name:    "mem_free_mb",
		command: "free -m",
		eval: func(t Thresholds, out string) model.CheckResult {
			mb, err := parseFreeMB(out)
			if err != nil {
				return failf("mem_free_mb", "parse free output: %v", err)
			}
			r := model.CheckResult{Name: "mem_free_mb", Observed: float64(mb)}
			if mb >= t.MemFreeMBMin {
				r.Passed = true
				r.Message = fmt.Sprintf("%d MB available (min %d)", mb, t.MemFreeMBMin)
			} else {
				r.Message = fmt.Sprintf("%d MB available, below minimum %d", mb, t.MemFreeMBMin)
			}
			return r
		},
	},
	{
		name:    "load_avg_1m",
		command: "cat /proc/loadavg",
		eval: func(t Thresholds, out string) model.CheckResult {
			load, err := parseLoadAvg(out)
			if err != nil {
				return failf("load_avg_1m", "parse loadavg: %v", err)
			}
			r := model.CheckResult{Name: "load_avg_1m", Observed: load}
			if load <= t.LoadAvg1mMax {
				r.Passed = true
				r.Message = fmt.Sprintf("load %.2f (max %.2f)", load, t.LoadAvg1mMax)
			} else {
				r.Message = fmt.Sprintf("load %.2f above maximum %.2f", load, t.LoadAvg1mMax)
			}
			return r
		},
	},
	{
		name:    "process_count",
		command: "ps -e --no-headers | wc -l",
		eval: func(t Thresholds, out string) model.CheckResult {
			n, err := strconv.Atoi(strings.TrimSpace(out))
			if err != nil {
				return failf("process_count", "parse process count: %v", err)
			}
			r := model.CheckResult{Name: "process_count", Observed: float64(n)}
			if n <= t.MaxProcessCount {
				r.Passed = true
				r.Message = fmt.Sprintf("%d processes (max %d)", n, t.MaxProcessCount)
			} else {
				r.Message = fmt.Sprintf("%d processes above maximum %d", n, t.MaxProcessCount)
			}
			return r
		},
	},
}

// Run executes every enabled check against the host in a fixed order. The
// returned error is non-nil only when the connector lost the host; results
// collected before that point are still returned.
func (e *Evaluator) Run(ctx context.Context, host model.Host) ([]model.CheckResult, error) {
	var results []model.CheckResult
	for _, c := range checks {
		if !e.enabled(c.name) {
			continue
		}
		res, err := e.conn.Execute(ctx, host, c.command)
		if err != nil {
			if errors.Is(err, connector.ErrUnreachable) || ctx.Err() != nil {
				return results, fmt.Errorf("precheck %s: %w", c.name, err)
			}
			results = append(results, failf(c.name, "%v", err))
			continue
		}
		if res.ExitCode != 0 {
			results = append(results, failf(c.name, "command exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
			continue
		}
		results = append(results, c.eval(e.thresholds, res.Stdout))
	}
	return results, nil
}

func (e *Evaluator) enabled(name string) bool {
	t := e.thresholds
	switch name {
	case "disk_free_percent":
		return t.DiskFreePercentMin > 0
	case "mem_free_mb":
		return t.MemFreeMBMin > 0
	case "load_avg_1m":
		return t.LoadAvg1mMax > 0
	case "process_count":
		return t.MaxProcessCount > 0
	}
	return false
}

// diskCheck compares available/total*100, truncated to an integer, against
// the configured minimum percentage.
func diskCheck(availKB, totalKB int64, minPercent int) model.CheckResult {
	r := model.CheckResult{Name: "disk_free_percent"}
	if totalKB <= 0 {
		r.Message = "filesystem reports zero size"
		return r
	}
	pct := availKB * 100 / totalKB
	r.Observed = float64(pct)
	if int(pct) >= minPercent {
		r.Passed = true
		r.Message = fmt.Sprintf("%d%% free (min %d%%)", pct, minPercent)
	} else {
		r.Message = fmt.Sprintf("%d%% free, below minimum %d%%", pct, minPercent)
	}
	return r
}

// parseDF extracts available and total 1K blocks from `df -P -k /`.
func parseDF(out string) (availKB, totalKB int64, err error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("unexpected df output %q", out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 4 {
		return 0, 0, fmt.Errorf("unexpected df line %q", lines[1])
	}
	totalKB, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	availKB, err = strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return availKB, totalKB, nil
}

// parseFreeMB extracts the "available" column of the Mem row from `free -m`.
func parseFreeMB(out string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			return 0, fmt.Errorf("unexpected free line %q", line)
		}
		return strconv.Atoi(fields[6])
	}
	return 0, fmt.Errorf("no Mem row in free output")
}

func parseLoadAvg(out string) (float64, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty loadavg")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func failf(name, format string, args ...interface{}) model.CheckResult {
	return model.CheckResult{Name: name, Message: fmt.Sprintf(format, args...)}
}
