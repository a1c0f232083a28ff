package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/event-indexer/internal/config"
	"github.com/0xmhha/event-indexer/internal/logger"
	"github.com/0xmhha/event-indexer/pkg/api"
	"github.com/0xmhha/event-indexer/pkg/client"
	"github.com/0xmhha/event-indexer/pkg/handlers"
	"github.com/0xmhha/event-indexer/pkg/indexer"
	"github.com/0xmhha/event-indexer/pkg/metrics"
	"github.com/0xmhha/event-indexer/pkg/notify"
	"github.com/0xmhha/event-indexer/pkg/producer"
	"github.com/0xmhha/event-indexer/pkg/registry"
	"github.com/0xmhha/event-indexer/pkg/source"
	"github.com/0xmhha/event-indexer/pkg/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// flags holds command-line overrides; zero values leave the config untouched
type flags struct {
	rpcEndpoint string
	dbBackend   string
	dbPath      string
	startHeight uint64
	mode        string
	logLevel    string
	logFormat   string
	enableAPI   bool
	apiHost     string
	apiPort     int
}

func main() {
	var f flags
	configFile := flag.String("config", "", "Path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.StringVar(&f.rpcEndpoint, "rpc", "", "Ethereum RPC endpoint URL")
	flag.StringVar(&f.dbBackend, "db-backend", "", "Storage backend (pebble, redis, memory)")
	flag.StringVar(&f.dbPath, "db", "", "Database path")
	flag.Uint64Var(&f.startHeight, "start-height", 0, "Block height to start from when no cursor is stored")
	flag.StringVar(&f.mode, "mode", "", "Handler failure mode (strict, lenient)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	flag.BoolVar(&f.enableAPI, "api", false, "Enable ops API server")
	flag.StringVar(&f.apiHost, "api-host", "", "API server host")
	flag.IntVar(&f.apiPort, "api-port", 0, "API server port")
	flag.Parse()

	if *showVersion {
		fmt.Printf("event-indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("Indexer stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Indexer stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("db_backend", cfg.Database.Backend),
		zap.Uint64("start_height", cfg.Indexer.StartHeight),
		zap.String("mode", cfg.Indexer.Mode),
		zap.Int("contracts", len(cfg.RPC.Contracts)),
		zap.Strings("record_methods", cfg.Indexer.RecordMethods),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ethereum client
	ethClient, err := client.NewClient(&client.Config{
		Endpoint: cfg.RPC.Endpoint,
		Timeout:  cfg.RPC.Timeout,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create Ethereum client: %w", err)
	}
	defer ethClient.Close()

	chainID, err := ethClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	log.Info("Connected to Ethereum node",
		zap.String("endpoint", cfg.RPC.Endpoint),
		zap.String("chain_id", chainID.String()),
	)

	decoder, err := buildDecoder(cfg.RPC.Contracts)
	if err != nil {
		return err
	}
	src, err := source.NewEVMSource(ethClient, decoder, source.EVMConfig{
		PollInterval: cfg.RPC.PollInterval,
		AllContracts: cfg.RPC.AllContracts,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create event source: %w", err)
	}

	// Storage
	store, err := storage.Open(storageConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if ps, ok := store.(*storage.PebbleStore); ok {
		ps.SetLogger(logger.WithComponent(log, "storage"))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()
	log.Info("Storage opened",
		zap.String("backend", cfg.Database.Backend),
		zap.String("path", cfg.Database.Path),
	)

	// Processing pack
	rb := registry.NewBuilder()
	if err := handlers.RegisterRecorders(rb, cfg.Indexer.RecordMethods); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}
	reg := rb.Build()
	if reg.Len() == 0 {
		log.Warn("No handlers registered, every event will be logged as unrecognized")
	}

	m := metrics.New(prometheus.DefaultRegisterer, "indexer")

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			log.Warn("Failed to close notifiers", zap.Error(err))
		}
	}()

	bc, err := builderConfig(cfg)
	if err != nil {
		return err
	}
	builder, err := indexer.Create(src, reg, store, bc,
		producerConfig(cfg),
		indexer.WithLogger(log),
		indexer.WithMetrics(m),
		indexer.WithNotifier(notifier),
	)
	if err != nil {
		return fmt.Errorf("failed to create index builder: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiConfig := api.DefaultConfig()
		apiConfig.Host = cfg.API.Host
		apiConfig.Port = cfg.API.Port

		apiServer, err = api.NewServer(apiConfig, log, builder, prometheus.DefaultGatherer)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		g.Go(apiServer.Start)
	}

	if err := builder.Start(ctx); err != nil {
		cancel()
		stopAPI(apiServer, log)
		_ = g.Wait()
		return fmt.Errorf("failed to start index builder: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var pipelineErr error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-builder.Done():
		pipelineErr = builder.Wait()
		if pipelineErr != nil && apiServer != nil {
			// Keep /health and /status up for the operator until told to exit
			log.Error("Pipeline failed, waiting for shutdown signal")
			select {
			case <-sigChan:
			case <-gctx.Done():
			}
		}
	case <-gctx.Done():
		log.Error("API server stopped unexpectedly")
	}

	log.Info("Shutting down gracefully...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Indexer.StopTimeout)
	defer stopCancel()
	if err := builder.Stop(stopCtx); err != nil {
		log.Error("Index builder did not stop in time", zap.Error(err))
	}
	stopAPI(apiServer, log)

	if err := g.Wait(); err != nil {
		log.Error("API server failed", zap.Error(err))
	}

	st := builder.Status()
	log.Info("Final statistics",
		zap.Stringer("cursor", st.Cursor),
		zap.Stringer("state", st.State),
		zap.Uint64("blocks_processed", st.BlocksProcessed),
		zap.Uint64("events_handled", st.EventsHandled),
		zap.Uint64("events_unrecognized", st.EventsUnrecognized),
		zap.Uint64("events_skipped", st.EventsSkipped),
	)

	if pipelineErr == nil {
		pipelineErr = builder.Wait()
	}
	return pipelineErr
}

func stopAPI(s *api.Server, log *zap.Logger) {
	if s == nil {
		return
	}
	if err := s.Stop(context.Background()); err != nil {
		log.Error("Failed to stop API server gracefully", zap.Error(err))
	}
}

// buildDecoder registers the ABI of every configured contract
func buildDecoder(contracts []config.ContractConfig) (*source.Decoder, error) {
	decoder := source.NewDecoder()
	for _, c := range contracts {
		if !common.IsHexAddress(c.Address) {
			return nil, fmt.Errorf("contract %s: invalid address %q", c.Name, c.Address)
		}
		abiJSON, err := os.ReadFile(c.ABIFile)
		if err != nil {
			return nil, fmt.Errorf("contract %s: failed to read ABI: %w", c.Name, err)
		}
		if err := decoder.RegisterJSON(common.HexToAddress(c.Address), c.Name, string(abiJSON)); err != nil {
			return nil, fmt.Errorf("contract %s: %w", c.Name, err)
		}
	}
	return decoder, nil
}

func storageConfig(cfg *config.Config) *storage.Config {
	sc := storage.DefaultConfig(cfg.Database.Path)
	sc.Backend = cfg.Database.Backend
	sc.Cache = cfg.Database.CacheMB
	sc.ReadOnly = cfg.Database.ReadOnly
	sc.Redis = storage.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
	}
	return sc
}

func builderConfig(cfg *config.Config) (*indexer.Config, error) {
	mode, err := indexer.ParseMode(cfg.Indexer.Mode)
	if err != nil {
		return nil, err
	}
	return &indexer.Config{
		Mode:           mode,
		StartHeight:    cfg.Indexer.StartHeight,
		HandlerTimeout: cfg.Indexer.HandlerTimeout,
		NotifyTimeout:  cfg.Notify.Timeout,
	}, nil
}

func kafkaConfig(cfg *config.Config) notify.KafkaConfig {
	return notify.KafkaConfig{
		Brokers:      cfg.Notify.Kafka.Brokers,
		Topic:        cfg.Notify.Kafka.Topic,
		Compression:  cfg.Notify.Kafka.Compression,
		WriteTimeout: cfg.Notify.Timeout,
	}
}

func producerConfig(cfg *config.Config) *producer.Config {
	return &producer.Config{
		BufferSize:    cfg.Producer.BufferSize,
		MaxRetries:    cfg.Producer.MaxRetries,
		RetryDelay:    cfg.Producer.RetryDelay,
		MaxRetryDelay: cfg.Producer.MaxRetryDelay,
		FetchTimeout:  cfg.Producer.FetchTimeout,
		RateLimit:     cfg.Producer.RateLimit,
		RateBurst:     cfg.Producer.RateBurst,
	}
}

// buildNotifier assembles the enabled commit notifiers
func buildNotifier(cfg *config.Config, log *zap.Logger) (notify.Notifier, error) {
	var notifiers notify.Multi

	if cfg.Notify.Redis.Enabled {
		n, err := notify.DialRedisNotifier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Notify.Redis.Channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis notifier: %w", err)
		}
		notifiers = append(notifiers, n)
		log.Info("Redis commit notifications enabled", zap.String("channel", cfg.Notify.Redis.Channel))
	}

	if cfg.Notify.Kafka.Enabled {
		n, err := notify.NewKafkaNotifier(kafkaConfig(cfg))
		if err != nil {
			_ = notifiers.Close()
			return nil, fmt.Errorf("failed to create kafka notifier: %w", err)
		}
		notifiers = append(notifiers, n)
		log.Info("Kafka commit notifications enabled",
			zap.Strings("brokers", cfg.Notify.Kafka.Brokers),
			zap.String("topic", cfg.Notify.Kafka.Topic),
		)
	}

	return notifiers, nil
}

// loadConfig loads configuration with priority flags > environment > file > defaults
func loadConfig(configFile string, f flags) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, f flags) {
	if f.rpcEndpoint != "" {
		cfg.RPC.Endpoint = f.rpcEndpoint
	}
	if f.dbBackend != "" {
		cfg.Database.Backend = f.dbBackend
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	if f.startHeight > 0 {
		cfg.Indexer.StartHeight = f.startHeight
	}
	if f.mode != "" {
		cfg.Indexer.Mode = f.mode
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
}
