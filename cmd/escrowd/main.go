package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trustlance/config"
	"trustlance/core"
	"trustlance/core/events"
	"trustlance/core/genesis"
	"trustlance/integrations/archive"
	"trustlance/integrations/redispub"
	"trustlance/integrations/webhooks"
	"trustlance/native/common"
	"trustlance/native/escrow"
	"trustlance/observability"
	"trustlance/observability/logging"
	telemetry "trustlance/observability/otel"
	"trustlance/rpc"
	"trustlance/storage"
)

const (
	envName        = "TRUSTLANCE_ENV"
	genesisPathEnv = "TRUSTLANCE_GENESIS"

	subscriberBuffer = 1024
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides TRUSTLANCE_GENESIS and config GenesisFile)")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv(envName))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "escrowd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.ResolvePath(cfg.Log.File),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := run(ctx, cfg, env, genesisPath, logger); err != nil {
		logger.Error("escrowd stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("escrowd stopped")
}

func run(ctx context.Context, cfg *config.Config, env, genesisPath string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	defer db.Close()

	var spec *genesis.Spec
	if genesisPath != "" {
		spec, err = genesis.Load(cfg.ResolvePath(genesisPath))
		if err != nil {
			return err
		}
	}
	network := resolveNetwork(cfg.NetworkName, spec, logger)

	bus := events.NewBus()
	node, err := core.NewNode(db, core.Options{
		Network: network,
		Pauses:  common.StaticPauses{escrow.ModuleName: cfg.Escrow.Paused},
		Bus:     bus,
		Logger:  logger,
		Metrics: observability.Escrow(),
	})
	if err != nil {
		return err
	}
	if cfg.Escrow.Paused {
		logger.Warn("escrow module paused; mutating calls will be rejected")
	}

	if spec != nil {
		allocs, err := spec.Allocations()
		if err != nil {
			return err
		}
		applied, err := node.ApplyGenesis(allocs)
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		if applied {
			logger.Info("genesis allocations applied", slog.Int("accounts", len(allocs)))
		}
	}

	workers, err := startIntegrations(ctx, cfg, bus, logger)
	if err != nil {
		return err
	}
	defer workers.stop()

	server, err := rpc.NewServer(node, rpc.ServerConfig{
		JWTSecret:          cfg.RPC.JWTSecret,
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		TrustedProxies:     append([]string{}, cfg.RPC.TrustedProxies...),
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		MaxConnections:     cfg.RPC.MaxConnections,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		Logger:             logger,
		Metrics:            observability.Escrow(),
	})
	if err != nil {
		return err
	}
	logger.Info("escrowd starting",
		slog.String("network", network),
		slog.String("storage", cfg.StorageBackend),
		slog.String("rpc", cfg.RPCAddress))
	return server.Serve(ctx, cfg.RPCAddress)
}

// background tracks the bus consumers started next to the node.
type background struct {
	cancel  context.CancelFunc
	done    []chan struct{}
	closers []func()
}

func (b *background) goRun(fn func() error, logger *slog.Logger, name string) {
	done := make(chan struct{})
	b.done = append(b.done, done)
	go func() {
		defer close(done)
		if err := fn(); err != nil {
			logger.Error("background worker failed", slog.String("worker", name), slog.Any("error", err))
		}
	}()
}

func (b *background) stop() {
	b.cancel()
	for _, done := range b.done {
		<-done
	}
	for _, closeFn := range b.closers {
		closeFn()
	}
}

func startIntegrations(parent context.Context, cfg *config.Config, bus *events.Bus, logger *slog.Logger) (*background, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	bg := &background{cancel: cancel}

	if cfg.Archive.Enabled {
		db, err := archive.Open(cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			bg.stop()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			bg.closers = append(bg.closers, func() { _ = sqlDB.Close() })
		}
		arch := archive.New(db, logger)
		last, err := arch.LastSequence(ctx)
		if err != nil {
			bg.stop()
			return nil, fmt.Errorf("archive: read last sequence: %w", err)
		}
		bus.Resume(last)
		sub := bus.Subscribe("archive", subscriberBuffer)
		bg.closers = append(bg.closers, sub.Close)
		bg.goRun(func() error { return arch.Run(ctx, sub) }, logger, sub.Name())
		logger.Info("event archive enabled", slog.String("driver", cfg.Archive.Driver), slog.Uint64("sequence", last))
	}

	if cfg.Redis.Enabled {
		pub, client, err := redispub.Dial(ctx, redispub.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger)
		if err != nil {
			bg.stop()
			return nil, err
		}
		sub := bus.Subscribe("redis", subscriberBuffer)
		bg.closers = append(bg.closers, sub.Close, func() { _ = client.Close() })
		bg.goRun(func() error { return pub.Run(ctx, sub) }, logger, sub.Name())
		logger.Info("redis publisher enabled", slog.String("channel", cfg.Redis.Channel))
	}

	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		opts := []webhooks.Option{webhooks.WithLogger(logger)}
		if cfg.Webhook.MaxAttempts > 0 {
			opts = append(opts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		}
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(cfg.Webhook.Secret), opts...)
		if err != nil {
			bg.stop()
			return nil, err
		}
		sub := bus.Subscribe("webhook", subscriberBuffer)
		bg.closers = append(bg.closers, sub.Close, dispatcher.Close)
		bg.goRun(func() error { return dispatcher.Run(ctx, sub) }, logger, sub.Name())
		logger.Info("webhook delivery enabled", logging.MaskField("endpoint", endpoint))
	}
	logger.Info("event sinks attached", slog.Int("subscribers", bus.Subscribers()))
	return bg, nil
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath prefers the CLI flag, then the environment, then the
// config file. An empty result means no genesis allocations.
func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// resolveNetwork lets a genesis document pin the network name.
func resolveNetwork(cfgNetwork string, spec *genesis.Spec, logger *slog.Logger) string {
	network := strings.TrimSpace(cfgNetwork)
	if spec == nil || strings.TrimSpace(spec.Network) == "" {
		return network
	}
	fromGenesis := strings.TrimSpace(spec.Network)
	if network != "" && network != fromGenesis && logger != nil {
		logger.Warn("genesis network overrides config",
			slog.String("config", network),
			slog.String("genesis", fromGenesis))
	}
	return fromGenesis
}

func loadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
