package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/api"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
	"github.com/rmax-ai/meshflow/pkg/source"
	"github.com/rmax-ai/meshflow/pkg/store"
	redisstore "github.com/rmax-ai/meshflow/pkg/store/redis"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	logger := log.WithField("component", "meshflow-d")

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.WithError(err).Fatal("invalid_config")
	}
	log.SetLevel(cfg.LogLevel)
	logger.Info("system_started")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("daemon_failed")
	}
	logger.Info("shutdown_complete")
}

func run(cfg Config, logger *log.Entry) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineCfg, err := loadEngineConfig(cfg.EngineConfig)
	if err != nil {
		return err
	}

	src, closeSrc, err := openRegistrySource(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSrc(); err != nil {
			logger.WithError(err).Warn("failed_to_close_registry")
		}
	}()

	reg := registry.Empty()
	if src != nil {
		if reg, err = registry.Snapshot(ctx, src); err != nil {
			return err
		}
	}
	logger.WithFields(log.Fields{"registry": cfg.RegistryKind, "contacts": reg.Len()}).Info("registry_loaded")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	self := engine.SelfInfo{PublicKey: cfg.SelfKey, Name: cfg.SelfName}
	if self.PublicKey == "" {
		logger.Warn("self_key_missing")
	}
	e, err := engine.New(engineCfg, reg, self, engine.WithMetrics(engine.NewMetrics(promReg)))
	if err != nil {
		return err
	}

	runner := engine.NewRunner(e, cfg.TickInterval)
	defer runner.Close()
	runner.OnPublish(func(p engine.Publication) {
		logger.WithFields(log.Fields{
			"key":        p.Key,
			"class":      p.Class,
			"paths":      len(p.Paths),
			"traversals": p.Traversals,
		}).Debug("publication")
	})

	packets := make(chan *packet.Packet, 256)
	go runner.Run(ctx, packets)
	if cfg.Input != "" {
		go readInput(ctx, cfg, packets, logger)
	}
	if src != nil {
		go refreshRegistry(ctx, src, runner, cfg.RegistryRefresh, logger)
	}

	srv := api.NewServer(runner, promReg, cfg.Addr)
	srv.SetAuthToken(cfg.APIToken)
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("api_listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("api server failed: %w", err)
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				reload(ctx, cfg, src, runner, logger)
				continue
			}
			logger.WithField("signal", sig.String()).Info("shutdown_initiated")
			cancel()

			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := srv.Stop(stopCtx); err != nil {
				logger.WithError(err).Warn("api_stop_failed")
			}
			return nil
		}
	}
}

func loadEngineConfig(path string) (engine.Config, error) {
	if path == "" {
		return engine.DefaultConfig(), nil
	}
	return engine.LoadConfigFile(path)
}

// openRegistrySource returns nil when no source is configured.
func openRegistrySource(cfg Config) (registry.Source, func() error, error) {
	noop := func() error { return nil }

	switch cfg.RegistryKind {
	case RegistryNone:
		return nil, noop, nil
	case RegistryYAML:
		return registry.NewFile(cfg.RegistryTarget), noop, nil
	case RegistrySQLite:
		st, err := store.NewStore(cfg.RegistryTarget)
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	case RegistryRedis:
		opts, err := goredis.ParseURL(cfg.RegistryTarget)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return redisstore.NewContactStore(client, cfg.RedisPrefix), client.Close, nil
	}
	return nil, noop, fmt.Errorf("%w: %s", registry.ErrUnknownSource, cfg.RegistryKind)
}

func readInput(ctx context.Context, cfg Config, out chan<- *packet.Packet, logger *log.Entry) {
	logger = logger.WithField("input", cfg.Input)

	if cfg.Follow {
		opts := source.FollowOptions{FromStart: cfg.FromStart}
		if err := source.Follow(ctx, cfg.Input, opts, out); err != nil {
			logger.WithError(err).Error("input_failed")
		}
		return
	}

	r := os.Stdin
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			logger.WithError(err).Error("input_failed")
			return
		}
		defer f.Close()
		r = f
	}
	n, err := source.ReadAll(ctx, r, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("input_failed")
	}
	logger.WithField("packets", n).Info("input_drained")
}

// refreshRegistry swaps in a fresh contact snapshot every interval. A failed
// load keeps the previous snapshot.
func refreshRegistry(ctx context.Context, src registry.Source, runner *engine.Runner, interval time.Duration, logger *log.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reloadRegistry(ctx, src, runner, logger)
		}
	}
}

func reloadRegistry(ctx context.Context, src registry.Source, runner *engine.Runner, logger *log.Entry) {
	reg, err := registry.Snapshot(ctx, src)
	if err != nil {
		logger.WithError(err).Warn("registry_refresh_failed")
		return
	}
	runner.SetRegistry(reg)
	logger.WithField("contacts", reg.Len()).Debug("registry_refreshed")
}

// reload re-reads the engine options for a new policy and refreshes the
// registry.
func reload(ctx context.Context, cfg Config, src registry.Source, runner *engine.Runner, logger *log.Entry) {
	logger.Info("reload_requested")
	if cfg.EngineConfig != "" {
		engineCfg, err := engine.LoadConfigFile(cfg.EngineConfig)
		if err != nil {
			logger.WithError(err).Error("reload_failed")
		} else if runner.SetPolicy(engineCfg.Policy) {
			logger.Info("policy_reloaded")
		}
	}
	if src != nil {
		reloadRegistry(ctx, src, runner, logger)
	}
}
