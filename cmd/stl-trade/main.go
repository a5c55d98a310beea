// Package main runs the limit order executor.
//
// Orders arrive over HTTP (and optionally an SQS queue), wait until the quoted
// price crosses their limit, and are then swapped on chain through a failover
// pool of JSON-RPC providers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/joho/godotenv"

	apihttp "github.com/archon-research/stl-trade/internal/adapters/inbound/http"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/quote"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/redis"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/rpcpool"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/signer"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/sns"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/sqs"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-trade/internal/config"
	"github.com/archon-research/stl-trade/internal/pkg/env"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
	"github.com/archon-research/stl-trade/internal/services/order_executor"
	"github.com/archon-research/stl-trade/internal/services/order_intake"
)

// Build-time variables
var (
	GitCommit string
	BuildTime string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("stl-trade\n  Commit:     %s\n  Build Time: %s\n", GitCommit, BuildTime)
		os.Exit(0)
	}

	// .env.local overrides .env; neither overrides the real environment.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("stl-trade failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stl-trade stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	logger.Info("starting stl-trade", "commit", GitCommit, "buildTime", BuildTime)

	cfg, err := config.Load(env.Get("CONFIG_PATH", "config/chains.yaml"))
	if err != nil {
		return err
	}

	shutdownTelemetry, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	poolTelemetry, err := rpcpool.NewTelemetry()
	if err != nil {
		return fmt.Errorf("creating pool telemetry: %w", err)
	}
	poolConfig := rpcpool.ConfigDefaults()
	if poolConfig.HealthCheckInterval, err = env.GetDuration("RPC_HEALTH_CHECK_INTERVAL", poolConfig.HealthCheckInterval); err != nil {
		return err
	}
	registry, err := rpcpool.NewRegistryFromConfig(cfg, poolConfig, logger, poolTelemetry)
	if err != nil {
		return fmt.Errorf("creating provider pools: %w", err)
	}
	registry.Start(ctx)
	defer registry.Stop()

	tokens, err := cfg.TokenRegistry()
	if err != nil {
		return fmt.Errorf("building token registry: %w", err)
	}

	key := os.Getenv("SIGNER_PRIVATE_KEY")
	if key == "" {
		return errors.New("SIGNER_PRIVATE_KEY environment variable is required")
	}
	wallet, err := signer.NewLocalSigner(key)
	if err != nil {
		return err
	}
	logger.Info("signer loaded", "address", wallet.Address())

	quoteConfig := quote.ClientConfigDefaults()
	quoteConfig.BaseURL = os.Getenv("QUOTE_SERVICE_URL")
	quoteConfig.APIKey = os.Getenv("QUOTE_SERVICE_API_KEY")
	quoteConfig.Logger = logger
	quotes, err := quote.NewClient(quoteConfig)
	if err != nil {
		return fmt.Errorf("creating quote client: %w", err)
	}

	store, closeStore, err := newOrderStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	leases, closeLeases, err := newLeaseStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeLeases()

	alerts, err := newAlertSink(ctx, logger)
	if err != nil {
		return err
	}

	executorTelemetry, err := order_executor.NewTelemetry()
	if err != nil {
		return fmt.Errorf("creating executor telemetry: %w", err)
	}
	execConfig, err := executorConfig(logger)
	if err != nil {
		return err
	}
	executor, err := order_executor.NewService(execConfig, order_executor.Deps{
		Store:          store,
		Chains:         registry,
		Quotes:         quotes,
		Tokens:         tokens,
		Signer:         wallet,
		Leases:         leases,
		Routers:        cfg.RouterAddresses(),
		Alerts:         alerts,
		Telemetry:      executorTelemetry,
		DefaultChainID: cfg.DefaultChainID,
	})
	if err != nil {
		return fmt.Errorf("creating order executor: %w", err)
	}
	if err := executor.Start(ctx); err != nil {
		return err
	}

	var shuttingDown atomic.Bool
	var origins []string
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		origins = strings.Split(raw, ",")
	}
	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:           env.Get("HTTP_ADDR", ":8080"),
		AllowedOrigins: origins,
		Logger:         logger,
	}, executor, executor, &shuttingDown)
	if err != nil {
		return err
	}
	server.Start()

	intakeDone := make(chan error, 1)
	intake, err := newIntake(ctx, logger, executor)
	if err != nil {
		return err
	}
	if intake != nil {
		go func() { intakeDone <- intake.Run(ctx) }()
	} else {
		close(intakeDone)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	shuttingDown.Store(true)

	timeout, err := env.GetDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if intake != nil {
		intake.Stop()
	}
	<-intakeDone
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown failed", "error", err)
	}
	if err := executor.Stop(shutdownCtx); err != nil {
		logger.Warn("executor did not drain before the deadline", "error", err)
	}
	return nil
}

func initTelemetry(ctx context.Context) (func(context.Context) error, error) {
	info := telemetry.ServiceInfo{
		ServiceName:    "stl-trade",
		ServiceVersion: GitCommit,
		Environment:    env.Get("ENVIRONMENT", "development"),
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{ServiceInfo: info, OTLPEndpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceInfo:  info,
		OTLPEndpoint: endpoint,
		Stdout:       env.Get("TRACE_STDOUT", "") == "true",
	})
	if err != nil {
		_ = shutdownMetrics(ctx)
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}
	return func(ctx context.Context) error {
		return errors.Join(shutdownTracer(ctx), shutdownMetrics(ctx))
	}, nil
}

func executorConfig(logger *slog.Logger) (order_executor.Config, error) {
	c := order_executor.ConfigDefaults()
	c.Logger = logger
	c.InstanceID = os.Getenv("INSTANCE_ID")
	if c.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			c.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
		}
	}

	var err error
	if c.Concurrency, err = env.GetInt("EXECUTOR_CONCURRENCY", c.Concurrency); err != nil {
		return c, err
	}
	if c.MaxRetries, err = env.GetInt("EXECUTOR_MAX_RETRIES", c.MaxRetries); err != nil {
		return c, err
	}
	if c.PollInterval, err = env.GetDuration("EXECUTOR_POLL_INTERVAL", c.PollInterval); err != nil {
		return c, err
	}
	if c.ConfirmTimeout, err = env.GetDuration("EXECUTOR_CONFIRM_TIMEOUT", c.ConfirmTimeout); err != nil {
		return c, err
	}
	return c, nil
}

// newOrderStore uses PostgreSQL when DATABASE_URL is set and memory otherwise.
func newOrderStore(ctx context.Context, logger *slog.Logger) (outbound.OrderStore, func(), error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		logger.Warn("DATABASE_URL not set, orders are kept in memory and lost on restart")
		return memory.NewOrderStore(), func() {}, nil
	}
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(url))
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.NewOrderStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("postgres order store connected")
	return store, pool.Close, nil
}

// newLeaseStore uses Redis when REDIS_ADDR is set. Without it only one replica may run.
func newLeaseStore(ctx context.Context, logger *slog.Logger) (outbound.LeaseStore, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Warn("REDIS_ADDR not set, order leases are process local")
		return memory.NewLeaseStore(), func() {}, nil
	}
	rc := redis.ConfigDefaults()
	rc.Addr = addr
	rc.Password = os.Getenv("REDIS_PASSWORD")
	store, err := redis.NewLeaseStore(rc, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("redis lease store connected", "addr", addr)
	return store, func() { _ = store.Close() }, nil
}

// newAlertSink publishes to SNS when ALERT_TOPIC_ARN is set and logs otherwise.
func newAlertSink(ctx context.Context, logger *slog.Logger) (outbound.AlertSink, error) {
	topic := os.Getenv("ALERT_TOPIC_ARN")
	if topic == "" {
		return memory.NewAlertSink(logger), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	sc := sns.ConfigDefaults()
	sc.TopicARN = topic
	sc.Logger = logger
	return sns.NewAlertSink(awssns.NewFromConfig(awsCfg), sc)
}

// newIntake returns nil when ORDER_QUEUE_URL is not set.
func newIntake(ctx context.Context, logger *slog.Logger, executor *order_executor.Service) (*order_intake.Service, error) {
	queueURL := os.Getenv("ORDER_QUEUE_URL")
	if queueURL == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	qc := sqs.ConfigDefaults()
	qc.QueueURL = queueURL
	consumer, err := sqs.NewConsumer(awsCfg, qc, logger)
	if err != nil {
		return nil, err
	}
	return order_intake.NewService(order_intake.Config{Logger: logger}, consumer, executor)
}
