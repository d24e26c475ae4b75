// Package inventory resolves the set of hosts a fleet run targets. Hosts
// come either from the config file or from a Consul KV prefix.
package inventory

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"patch-fleet/pkg/model"
)

// Source yields the hosts to dispatch, in a stable order.
type Source interface {
	Hosts(ctx context.Context) ([]model.Host, error)
}

// Static wraps an already-loaded host list (the config file inventory).
type Static []model.Host

func (s Static) Hosts(_ context.Context) ([]model.Host, error) {
	return []model.Host(s), nil
}

// File reads a standalone inventory YAML file of the same shape as the
// config's hosts section.
type File struct {
	Path string
}

func (f File) Hosts(_ context.Context) ([]model.Host, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var doc struct {
		Hosts []model.Host `yaml:"hosts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", f.Path, err)
	}
	for i, h := range doc.Hosts {
		if h.Name == "" || h.Addr == "" {
			return nil, fmt.Errorf("inventory %s: hosts[%d] needs name and addr", f.Path, i)
		}
	}
	return doc.Hosts, nil
}

// sortHosts orders hosts by name so dispatch order is stable across
// sources that do not guarantee one.
func sortHosts(hosts []model.Host) {
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
}
