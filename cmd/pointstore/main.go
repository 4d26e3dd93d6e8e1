package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/pointstore/internal/config"
	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/internal/metrics"
	"github.com/vjranagit/pointstore/pkg/api"
	"github.com/vjranagit/pointstore/pkg/handler"
	"github.com/vjranagit/pointstore/pkg/server"
	"github.com/vjranagit/pointstore/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	flag.Parse()

	fmt.Printf("pointstore %s\n", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if *dataDir != "" {
		cfg.Storage.DataDirectory = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.Init(level, cfg.JSONLogs())

	if err := run(cfg); err != nil {
		logging.Logger().Error("pointstore stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logging.Component("main")
	log.Info("configuration loaded",
		"listen", cfg.Server.ListenAddr,
		"admin", cfg.Server.AdminAddr,
		"data_directory", cfg.Storage.DataDirectory,
		"max_days_per_file", cfg.Storage.MaxDaysPerFile,
		"timezone", cfg.Storage.Timezone,
		"journal", cfg.Journal.Enabled)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	storeCfg, err := cfg.ToStorageConfig()
	if err != nil {
		return err
	}
	store, err := storage.NewFileStore(storeCfg, storage.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	opts := []handler.Option{
		handler.WithMetrics(m),
		handler.WithCache(storage.NewQueryCache(cfg.Cache.Capacity, cfg.Cache.TTL)),
	}
	if cfg.Journal.Enabled {
		journal, err := storage.OpenJournal(cfg.ToJournalConfig())
		if err != nil {
			return err
		}
		defer func() {
			if err := journal.Close(); err != nil {
				log.Error("journal close failed", "error", err)
			}
		}()
		opts = append(opts, handler.WithJournal(journal))
	}
	h := handler.New(store, opts...)

	if _, err := h.ReplayJournal(); err != nil {
		// Unfinished batches stay journaled for the next start.
		log.Error("journal replay incomplete", "error", err)
	}

	srv := server.New(cfg.ToServerConfig(), h, server.WithMetrics(m))

	var admin *api.Server
	if cfg.Server.AdminAddr != "" {
		admin = api.NewServer(cfg.Server.AdminAddr, h, reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	if admin != nil {
		g.Go(admin.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if admin != nil {
			if err := admin.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
