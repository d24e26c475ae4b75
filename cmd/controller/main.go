package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"patch-fleet/pkg/api"
	"patch-fleet/pkg/config"
	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/fleet"
	"patch-fleet/pkg/inventory"
	"patch-fleet/pkg/model"
	"patch-fleet/pkg/report"
	"patch-fleet/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "patch-fleet.yaml", "config file")
	showVersion := flag.Bool("v", false, "print version and exit")
	invSource := flag.String("inventory", "config", "inventory source: config|consul")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when --inventory consul)")
	consulPrefix := flag.String("consul-prefix", inventory.DefaultConsulPrefix, "consul KV prefix for hosts")
	noAuth := flag.Bool("no-auth", false, "disable JWT auth on the API (dev only)")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	flag.Parse()

	if *showVersion {
		log.Printf("controller version=%s", version.Build)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := report.OpenMySQL()
	if err != nil {
		log.Fatalf("open central store: %v", err)
	}

	hub := api.NewWSHub()
	runner := &api.Runner{
		Run:   runFunc(cfg, *invSource, *consulAddr, *consulPrefix),
		Hub:   hub,
		Store: store,
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, store, runner, hub, !*noAuth)
	authHandler := &api.AuthHandler{DB: store.DB()}
	authHandler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("controller listening on %s", *addr)
	if *tlsCert != "" && *tlsKey != "" {
		err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runFunc builds the closure the API runner executes per triggered run.
// Inventory is re-resolved on every run so newly registered hosts are
// picked up without a restart.
func runFunc(cfg config.Config, invSource, consulAddr, consulPrefix string) func(ctx context.Context, progress func(fleet.Event)) model.FleetReport {
	return func(ctx context.Context, progress func(fleet.Event)) model.FleetReport {
		hosts, err := resolveHosts(ctx, cfg, invSource, consulAddr, consulPrefix)
		if err != nil {
			log.Printf("resolve inventory: %v", err)
			return model.FleetReport{StartedAt: time.Now(), FinishedAt: time.Now()}
		}

		conn := connector.NewSSH(cfg.ConnectTimeout())
		orch, err := fleet.FromConfig(conn, cfg)
		if err != nil {
			log.Printf("build orchestrator: %v", err)
			return model.FleetReport{StartedAt: time.Now(), FinishedAt: time.Now()}
		}
		orch.OnProgress = progress

		// Detach from the HTTP request context: the run outlives the
		// trigger request. Only the configured run timeout cancels it.
		runCtx := context.WithoutCancel(ctx)
		if t := cfg.RunTimeout(); t > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, t)
			defer cancel()
		}
		return orch.Run(runCtx, hosts)
	}
}

func resolveHosts(ctx context.Context, cfg config.Config, source, consulAddr, consulPrefix string) ([]model.Host, error) {
	switch source {
	case "consul":
		consul, err := inventory.NewConsul(consulAddr, consulPrefix)
		if err != nil {
			return nil, err
		}
		return consul.Hosts(ctx)
	default:
		return inventory.Static(cfg.Hosts).Hosts(ctx)
	}
}
