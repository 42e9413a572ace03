package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/api"
	"github.com/ayo6706/payment-aggregator/internal/api/handler"
	"github.com/ayo6706/payment-aggregator/internal/config"
	"github.com/ayo6706/payment-aggregator/internal/db"
	"github.com/ayo6706/payment-aggregator/internal/events"
	"github.com/ayo6706/payment-aggregator/internal/idempotency"
	"github.com/ayo6706/payment-aggregator/internal/lock"
	"github.com/ayo6706/payment-aggregator/internal/notify"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/provider/aespay"
	"github.com/ayo6706/payment-aggregator/internal/provider/hashpay"
	"github.com/ayo6706/payment-aggregator/internal/provider/mock"
	"github.com/ayo6706/payment-aggregator/internal/provider/rsapay"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/ayo6706/payment-aggregator/internal/routing"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"github.com/ayo6706/payment-aggregator/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.MigrateUp(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	httpClient := NewHTTPClient(cfg.HTTPClientTimeout)

	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	registry, err := routing.NewRegistry(NewProviderRegistry(), channels, provider.Deps{HTTP: httpClient, Logger: logger})
	if err != nil {
		return fmt.Errorf("build channel registry: %w", err)
	}
	if err := registry.Sync(ctx, store); err != nil {
		return fmt.Errorf("sync channels: %w", err)
	}
	logger.Info("channels loaded", zap.Int("count", len(registry.Entries())), zap.String("file", cfg.ChannelsFile))

	publisher, err := newPublisher(cfg)
	if err != nil {
		return fmt.Errorf("init event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", zap.Error(err))
		}
	}()

	router := routing.NewRouter(registry, store.Queries(), cfg.PublicBaseURL)
	settlement := service.NewSettlementService(store, nil)
	forwarder := notify.NewForwarder(store, httpClient, cfg.NotifyTimeout, nil)

	notifyWorker := worker.NewNotificationWorker(store, forwarder).
		WithPollInterval(cfg.NotifyPollInterval).
		WithBatchSize(cfg.NotifyBatchSize).
		WithRate(cfg.NotifyRatePerSec).
		WithLease(cfg.NotifyLease)

	orders := service.NewOrderService(store, router, settlement, nil, cfg.OrderTTL)
	callbacks := service.NewCallbackService(registry, settlement, store, service.CallbackOptions{
		AckOnError: cfg.CallbackAckOnError,
		LockTTL:    cfg.CallbackLockTTL,
	}).
		WithLocker(lock.NewRedisLocker(redisClient)).
		WithPublisher(publisher).
		WithWaker(notifyWorker)
	recon := service.NewReconciliationService(store, router, settlement, cfg.ReconciliationStaleAfter, cfg.ReconciliationBatchSize).
		WithPublisher(publisher).
		WithWaker(notifyWorker)
	reconWorker := worker.NewReconciliationWorker(recon).WithInterval(cfg.ReconciliationInterval)

	stopNotify := notifyWorker.Run(ctx)
	stopRecon := reconWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("notify_interval", cfg.NotifyPollInterval),
		zap.Int32("notify_batch", cfg.NotifyBatchSize),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval),
	)

	idemStore := idempotency.NewStore(redisClient, store, cfg.IdempotencyTTL)
	apiRouter := api.NewRouter(cfg, logger, api.Services{
		Orders:         orders,
		Callbacks:      callbacks,
		Reconciliation: recon,
		Forwarder:      forwarder,
		Merchants:      store.Queries(),
	}, idemStore, store, handler.PingFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}))

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      apiRouter.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopNotify()
	stopRecon()

	logger.Info("shutdown complete")
	return nil
}

// NewProviderRegistry registers every built-in adapter type.
func NewProviderRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	mock.Register(reg)
	hashpay.Register(reg)
	rsapay.Register(reg)
	aespay.Register(reg)
	return reg
}

// NewHTTPClient returns the keep-alive client shared by provider adapters
// and the merchant notification forwarder.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		zap.L().Info("kafka brokers not configured, order events disabled")
		return events.NopPublisher{}, nil
	}
	pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
