// trustd - Trust and permission policy daemon
//
// Runs the trust engine behind a unix socket so moderation tooling and
// the trustctl CLI can query it without opening the store themselves:
//
//	trustd -config ~/.trustd/config.toml
//
// The daemon reloads its configuration when the file changes and
// sweeps expired trust assignments periodically.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustd/internal/config"
	"trustd/internal/engine"
	"trustd/internal/ipc"
	"trustd/internal/logging"
	"trustd/internal/signing"
	"trustd/internal/store"
)

const version = "1.0.0"

const sweepInterval = time.Hour

func main() {
	configPath := flag.String("config", config.DefaultPath(), "configuration file")
	socketPath := flag.String("socket", "", "unix socket path (default <data dir>/trustd.sock)")
	flag.Parse()

	if err := run(*configPath, *socketPath); err != nil {
		fmt.Fprintf(os.Stderr, "trustd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, socketPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	log, closer, err := logging.New(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	keys := &signing.FileProvider{Dir: cfg.Signing.KeyDir}
	eng := engine.New(st, keys, signing.LocalFinalizer{}, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := ipc.NewEngineHandler(eng, version, cfg.Storage.Path, cfg.ReadOnly(), log)
	handler.Shutdown = stop
	handler.Reload = func() error {
		_, err := loader.Reload()
		return err
	}

	srvCfg := ipc.DefaultServerConfig(config.TrustdDir())
	if socketPath != "" {
		srvCfg.SocketPath = socketPath
	}
	srv := ipc.NewServer(srvCfg, handler, log)
	if err := srv.Start(); err != nil {
		return err
	}

	loader.OnChange(func(c *config.Config) {
		log.Info("configuration reloaded", "mode", c.Engine.Mode, "level", c.Logging.Level)
	})
	errs := make(chan error, 1)
	if err := loader.Watch(ctx, errs); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}
	go func() {
		for err := range errs {
			log.Warn("config reload failed", "error", err)
		}
	}()

	go sweepExpired(ctx, st, log)

	log.Info("trustd started",
		"version", version,
		"storage", cfg.Storage.Path,
		"socket", srv.SocketPath(),
		"readonly", cfg.ReadOnly())

	<-ctx.Done()
	log.Info("shutting down")
	return srv.Stop()
}

func sweepExpired(ctx context.Context, st *store.Store, log *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := st.DeleteExpiredAssignments(now)
			if err != nil {
				log.Warn("expired assignment sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired assignments removed", "count", n)
			}
		}
	}
}
