// Package config loads the fleet run configuration from YAML with a .env
// overlay for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"patch-fleet/pkg/model"
	"patch-fleet/pkg/postcheck"
	"patch-fleet/pkg/precheck"
)

// Config is the single structured object threaded down to every component;
// there is no ambient global state.
type Config struct {
	// Concurrency bounds how many hosts patch at once; 0 means unbounded
	// up to the host count.
	Concurrency int `yaml:"concurrency"`

	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	RunTimeoutSeconds     int `yaml:"run_timeout_seconds"`
	RebootTimeoutSeconds  int `yaml:"reboot_timeout_seconds"`
	RebootGraceSeconds    int `yaml:"reboot_grace_seconds"`

	UpdateClass          string `yaml:"update_class"`
	KernelPackagePattern string `yaml:"kernel_package_pattern"`
	RebootSentinel       string `yaml:"reboot_sentinel"`

	Prechecks  precheck.Thresholds `yaml:"prechecks"`
	Postchecks postcheck.Config    `yaml:"postchecks"`

	// Facts controls collection of the monthly-report facts after
	// postchecks.
	Facts bool `yaml:"facts"`

	// Hosts is the file-based inventory; ignored when another inventory
	// source is selected on the command line.
	Hosts []model.Host `yaml:"hosts"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		ConnectTimeoutSeconds: 10,
		RebootTimeoutSeconds:  600,
		RebootGraceSeconds:    15,
		UpdateClass:           "all",
		Prechecks: precheck.Thresholds{
			DiskFreePercentMin: 10,
			MemFreeMBMin:       256,
			LoadAvg1mMax:       8.0,
			MaxProcessCount:    800,
		},
		Facts: true,
	}
}

// Load reads the YAML file at path over the defaults. A .env file in the
// working directory, if present, is loaded into the environment first so
// secrets (DSN, JWT secret) never live in the YAML.
func Load(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.UpdateClass {
	case "", "all", "security", "bugfix":
	default:
		return fmt.Errorf("unknown update_class %q", c.UpdateClass)
	}
	for i, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if h.Addr == "" {
			return fmt.Errorf("host %s: addr is required", h.Name)
		}
	}
	return nil
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// RunTimeout returns 0 when no run-level timeout is configured.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func (c Config) RebootTimeout() time.Duration {
	return time.Duration(c.RebootTimeoutSeconds) * time.Second
}

func (c Config) RebootGrace() time.Duration {
	return time.Duration(c.RebootGraceSeconds) * time.Second
}
