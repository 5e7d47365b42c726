// Command iocatcherd runs the IO Catcher server: it loads its
// configuration, wires a storage and memory backend, and serves
// clients until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	iocatcher "github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/config"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/logging"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/storage"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/membackend"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "iocatcherd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a TOML config file (§6.4)")
		listenAddr = flag.String("listen", "", "override the configured listen address")
		port       = flag.Int("port", 0, "override the configured libfabric-equivalent data port")
		nvdimm     = flag.String("nvdimm", "", "comma-separated nvdimm mount points; empty uses a heap-backed memory backend")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyEnv()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *nvdimm != "" {
		cfg.NvdimmMounts = splitNonEmpty(*nvdimm)
	}

	logging.SetDefault(logging.NewLogger(&logging.Config{Level: verbosityLevel(cfg), Format: "text", Output: os.Stderr}))

	memBackend, err := buildMemBackend(cfg)
	if err != nil {
		return fmt.Errorf("building memory backend: %w", err)
	}

	resourceDir := cfg.StorageResourceFile
	if resourceDir == "" {
		resourceDir = "./iocatcher-data"
	}
	store, err := storage.NewFileStorage(resourceDir)
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}

	srv, err := iocatcher.NewServer(cfg, store, memBackend)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Default().Info("iocatcherd starting", "data_addr", srv.DataAddr().String(), "auth_addr", srv.AuthAddr().String())
	return srv.Serve(ctx)
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func buildMemBackend(cfg *config.Config) (membackend.Backend, error) {
	if len(cfg.NvdimmMounts) == 0 {
		return membackend.NewCache(membackend.NewMalloc()), nil
	}
	balance := membackend.NewBalance()
	for _, mount := range cfg.NvdimmMounts {
		balance.Register(membackend.NewCache(membackend.NewNvdimmFile(mount)))
	}
	return balance, nil
}

func verbosityLevel(cfg *config.Config) logging.LogLevel {
	if cfg.VerboseAll() {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
