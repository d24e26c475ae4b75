package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"patch-fleet/pkg/config"
	"patch-fleet/pkg/connector"
	"patch-fleet/pkg/fleet"
	"patch-fleet/pkg/inventory"
	"patch-fleet/pkg/model"
	"patch-fleet/pkg/report"
	"patch-fleet/pkg/version"
)

func main() {
	defaultConfig := os.Getenv("PATCH_FLEET_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "patch-fleet.yaml"
	}

	configPath := flag.String("config", defaultConfig, "config file (env PATCH_FLEET_CONFIG)")
	showVersion := flag.Bool("v", false, "print version and exit")
	invSource := flag.String("inventory", "config", "inventory source: config|file|consul")
	invFile := flag.String("inventory-file", "", "inventory file (when --inventory file)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when --inventory consul)")
	consulPrefix := flag.String("consul-prefix", inventory.DefaultConsulPrefix, "consul KV prefix for hosts")
	outDir := flag.String("out", ".", "directory for report files")
	historyPath := flag.String("history", "patch-fleet-history.db", "local sqlite run history (empty to disable)")
	useMySQL := flag.Bool("mysql", false, "also persist the run to the central MySQL store")
	concurrency := flag.Int("concurrency", -1, "override configured concurrency (-1 keeps config)")
	registerName := flag.String("register", "", "register a host in the consul inventory and exit")
	registerAddr := flag.String("register-addr", "", "address for --register")
	flag.Parse()

	if *showVersion {
		log.Printf("patcher version=%s", version.Build)
		return
	}

	if *registerName != "" {
		consul, err := inventory.NewConsul(*consulAddr, *consulPrefix)
		if err != nil {
			log.Fatalf("consul: %v", err)
		}
		h := model.Host{Name: *registerName, Addr: *registerAddr}
		if err := consul.Register(context.Background(), h); err != nil {
			log.Fatalf("register %s: %v", *registerName, err)
		}
		log.Printf("host %s registered at %s%s", *registerName, *consulPrefix, *registerName)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *concurrency >= 0 {
		cfg.Concurrency = *concurrency
	}

	hosts, err := resolveHosts(cfg, *invSource, *invFile, *consulAddr, *consulPrefix)
	if err != nil {
		log.Fatalf("resolve inventory: %v", err)
	}
	if len(hosts) == 0 {
		log.Fatal("no hosts to patch")
	}

	conn := connector.NewSSH(cfg.ConnectTimeout())
	orch, err := fleet.FromConfig(conn, cfg)
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}
	orch.OnProgress = func(ev fleet.Event) {
		log.Printf("host %s: %s %s", ev.Host, ev.Status, ev.Message)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if t := cfg.RunTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	log.Printf("patching %d hosts (concurrency %d)", len(hosts), cfg.Concurrency)
	rep := orch.Run(ctx, hosts)

	if err := writeReports(*outDir, rep); err != nil {
		log.Printf("write reports: %v", err)
	}
	persist(ctx, rep, *historyPath, *useMySQL)

	log.Printf("run complete: %d hosts, %d failed, cancelled=%v", len(rep.Hosts), rep.Failed(), rep.Cancelled)
	if rep.Failed() > 0 || rep.Cancelled {
		os.Exit(1)
	}
}

func resolveHosts(cfg config.Config, source, file, consulAddr, consulPrefix string) ([]model.Host, error) {
	var src inventory.Source
	switch source {
	case "config":
		src = inventory.Static(cfg.Hosts)
	case "file":
		if file == "" {
			return nil, fmt.Errorf("--inventory-file is required with --inventory file")
		}
		src = inventory.File{Path: file}
	case "consul":
		consul, err := inventory.NewConsul(consulAddr, consulPrefix)
		if err != nil {
			return nil, err
		}
		src = consul
	default:
		return nil, fmt.Errorf("unknown inventory source %q", source)
	}
	return src.Hosts(context.Background())
}

func writeReports(dir string, rep model.FleetReport) error {
	writers := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"patch-report.json", func(f *os.File) error { return report.WriteJSON(f, rep) }},
		{"patch-report.csv", func(f *os.File) error { return report.WriteCSV(f, rep) }},
		{"patch-report.md", func(f *os.File) error { return report.WriteMarkdown(f, rep) }},
	}
	for _, w := range writers {
		path := filepath.Join(dir, w.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = w.write(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Printf("report written: %s", path)
	}
	return nil
}

func persist(ctx context.Context, rep model.FleetReport, historyPath string, useMySQL bool) {
	if historyPath != "" {
		hist, err := report.OpenHistory(historyPath)
		if err != nil {
			log.Printf("open history: %v", err)
		} else {
			if id, err := hist.Append(context.WithoutCancel(ctx), rep); err != nil {
				log.Printf("append history: %v", err)
			} else {
				log.Printf("run recorded in history as #%d", id)
			}
			_ = hist.Close()
		}
	}
	if useMySQL {
		store, err := report.OpenMySQL()
		if err != nil {
			log.Printf("open mysql store: %v", err)
			return
		}
		if id, err := store.SaveRun(rep); err != nil {
			log.Printf("save run to mysql: %v", err)
		} else {
			log.Printf("run saved to central store as #%d", id)
		}
	}
}
