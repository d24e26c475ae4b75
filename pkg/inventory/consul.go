package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"patch-fleet/pkg/model"
)

// DefaultConsulPrefix is where hosts live in the KV store.
const DefaultConsulPrefix = "patch-fleet/hosts/"

// Consul is a KV-backed inventory: one JSON-encoded model.Host per key
// under the prefix.
type Consul struct {
	cli    *consulapi.Client
	prefix string
}

func NewConsul(addr, prefix string) (*Consul, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if prefix == "" {
		prefix = DefaultConsulPrefix
	}
	return &Consul{cli: cli, prefix: prefix}, nil
}

func (c *Consul) Hosts(ctx context.Context) ([]model.Host, error) {
	pairs, _, err := c.cli.KV().List(c.prefix, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul list %s: %w", c.prefix, err)
	}
	var hosts []model.Host
	for _, p := range pairs {
		var h model.Host
		if err := json.Unmarshal(p.Value, &h); err != nil {
			return nil, fmt.Errorf("consul key %s: %w", p.Key, err)
		}
		if h.Name == "" || h.Addr == "" {
			return nil, fmt.Errorf("consul key %s: host needs name and addr", p.Key)
		}
		hosts = append(hosts, h)
	}
	sortHosts(hosts)
	return hosts, nil
}

// Register upserts a host under the prefix so later runs pick it up.
func (c *Consul) Register(ctx context.Context, h model.Host) error {
	if h.Name == "" || h.Addr == "" {
		return fmt.Errorf("host needs name and addr")
	}
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = c.cli.KV().Put(&consulapi.KVPair{Key: c.prefix + h.Name, Value: b}, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("consul put %s: %w", c.prefix+h.Name, err)
	}
	return nil
}
