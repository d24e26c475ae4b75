package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patch-fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
concurrency: 4
connect_timeout_seconds: 5
run_timeout_seconds: 3600
reboot_timeout_seconds: 900
reboot_grace_seconds: 20
update_class: security
kernel_package_pattern: "^kernel"
reboot_sentinel: /var/run/reboot-required
prechecks:
  disk_free_percent_min: 15
  mem_free_mb_min: 512
  load_avg_1m_max: 4.5
  max_process_count: 600
postchecks:
  services:
    nginx: active
    sshd: active
  tcp_port: 443
  http_url: "http://%h/healthz"
  http_status: 200
facts: true
hosts:
  - name: web1
    addr: 10.0.0.1
  - name: web2
    addr: 10.0.0.2
    port: 2222
    user: patcher
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, time.Hour, cfg.RunTimeout())
	assert.Equal(t, 900*time.Second, cfg.RebootTimeout())
	assert.Equal(t, 20*time.Second, cfg.RebootGrace())
	assert.Equal(t, "security", cfg.UpdateClass)
	assert.Equal(t, 15, cfg.Prechecks.DiskFreePercentMin)
	assert.InDelta(t, 4.5, cfg.Prechecks.LoadAvg1mMax, 0.001)
	assert.Equal(t, "active", cfg.Postchecks.Services["nginx"])
	assert.Equal(t, 443, cfg.Postchecks.TCPPort)
	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, "10.0.0.1:22", cfg.Hosts[0].Address())
	assert.Equal(t, "10.0.0.2:2222", cfg.Hosts[1].Address())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
hosts:
  - name: web1
    addr: 10.0.0.1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.ConnectTimeoutSeconds, cfg.ConnectTimeoutSeconds)
	assert.Equal(t, def.RebootTimeoutSeconds, cfg.RebootTimeoutSeconds)
	assert.Equal(t, def.RebootGraceSeconds, cfg.RebootGraceSeconds)
	assert.Equal(t, "all", cfg.UpdateClass)
	assert.Equal(t, def.Prechecks, cfg.Prechecks)
	assert.True(t, cfg.Facts)
	assert.Zero(t, cfg.RunTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadRejectsUnknownUpdateClass(t *testing.T) {
	path := writeConfig(t, `update_class: enhancement`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update_class")
}

func TestLoadRejectsHostWithoutAddr(t *testing.T) {
	path := writeConfig(t, `
hosts:
  - name: web1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addr is required")
}

func TestLoadRejectsUnnamedHost(t *testing.T) {
	path := writeConfig(t, `
hosts:
  - addr: 10.0.0.1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}
