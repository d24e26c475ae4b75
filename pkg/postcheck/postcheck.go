// Package postcheck verifies service, port, and application health after a
// host has been patched (and possibly rebooted). Every check is independent:
// one check failing or erroring never suppresses the others.
package postcheck

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/model"
)

const defaultCheckTimeout = 10 * time.Second

// Config enumerates the named health checks. Services maps unit name to
// expected systemd active-state. HTTPURL and TCPPort are optional; "%h" in
// HTTPURL is replaced by the host address.
type Config struct {
	Services   map[string]string `yaml:"services" json:"services"`
	HTTPURL    string            `yaml:"http_url" json:"httpUrl,omitempty"`
	HTTPStatus int               `yaml:"http_status" json:"httpStatus,omitempty"`
	TCPPort    int               `yaml:"tcp_port" json:"tcpPort,omitempty"`

	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeoutSeconds,omitempty"`
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultCheckTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Evaluator runs the configured postchecks against a host.
type Evaluator struct {
	conn   connector.Connector
	cfg    Config
	client *http.Client
	dialer net.Dialer
}

func New(conn connector.Connector, cfg Config) *Evaluator {
	return &Evaluator{
		conn:   conn,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.timeout()},
	}
}

// Run executes all configured checks and returns their results in a stable
// order: services sorted by name, then TCP port, then HTTP. It never
// returns an error; connector failures become failed CheckResults.
func (e *Evaluator) Run(ctx context.Context, host model.Host) []model.CheckResult {
	var results []model.CheckResult

	names := make([]string, 0, len(e.cfg.Services))
	for name := range e.cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		results = append(results, e.serviceCheck(ctx, host, name, e.cfg.Services[name]))
	}

	if e.cfg.TCPPort > 0 {
		results = append(results, e.tcpCheck(ctx, host))
	}
	if e.cfg.HTTPURL != "" {
		results = append(results, e.httpCheck(ctx, host))
	}
	return results
}

func (e *Evaluator) serviceCheck(ctx context.Context, host model.Host, name, expected string) model.CheckResult {
	check := "service_" + name
	if expected == "" {
		expected = "active"
	}
	res, err := e.conn.Execute(ctx, host, "systemctl is-active "+name)
	if err != nil {
		return model.CheckResult{Name: check, Message: fmt.Sprintf("query service state: %v", err)}
	}
	// is-active exits non-zero for anything but active; the state name is
	// still on stdout, so compare the text rather than the exit code.
	state := strings.TrimSpace(res.Stdout)
	if state == "" {
		state = "unknown"
	}
	if state == expected {
		return model.CheckResult{Name: check, Passed: true, Message: state}
	}
	return model.CheckResult{Name: check, Message: fmt.Sprintf("state %s, expected %s", state, expected)}
}

func (e *Evaluator) tcpCheck(ctx context.Context, host model.Host) model.CheckResult {
	check := "tcp_port_" + strconv.Itoa(e.cfg.TCPPort)
	addr := net.JoinHostPort(host.Addr, strconv.Itoa(e.cfg.TCPPort))

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.timeout())
	defer cancel()
	conn, err := e.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return model.CheckResult{Name: check, Message: fmt.Sprintf("dial %s: %v", addr, err)}
	}
	_ = conn.Close()
	return model.CheckResult{Name: check, Passed: true, Message: "port open"}
}

func (e *Evaluator) httpCheck(ctx context.Context, host model.Host) model.CheckResult {
	url := strings.ReplaceAll(e.cfg.HTTPURL, "%h", host.Addr)
	expected := e.cfg.HTTPStatus
	if expected == 0 {
		expected = http.StatusOK
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.CheckResult{Name: "http_health", Message: fmt.Sprintf("build request: %v", err)}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return model.CheckResult{Name: "http_health", Message: fmt.Sprintf("GET %s: %v", url, err)}
	}
	defer resp.Body.Close()

	result := model.CheckResult{Name: "http_health", Observed: float64(resp.StatusCode)}
	if resp.StatusCode == expected {
		result.Passed = true
		result.Message = fmt.Sprintf("status %d", resp.StatusCode)
	} else {
		result.Message = fmt.Sprintf("status %d, expected %d", resp.StatusCode, expected)
	}
	return result
}
