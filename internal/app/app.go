package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/api"
	"github.com/nivapay/settlement/internal/api/middleware"
	"github.com/nivapay/settlement/internal/config"
	"github.com/nivapay/settlement/internal/db"
	"github.com/nivapay/settlement/internal/gateway"
	"github.com/nivapay/settlement/internal/idempotency"
	"github.com/nivapay/settlement/internal/notify"
	"github.com/nivapay/settlement/internal/observability"
	"github.com/nivapay/settlement/internal/repository"
	"github.com/nivapay/settlement/internal/service"
	"github.com/nivapay/settlement/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
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
	idemStore := idempotency.NewStore(redisClient, store.Queries(), cfg.IdempotencyTTL)
	notifier := notify.NewPublisher(redisClient, cfg.NotifyChannel)

	var crypto gateway.CryptoInvoicer = gateway.NewMockCryptoGateway()
	if cfg.CryptoMerchantKey != "" {
		crypto = gateway.NewCryptoClient(cfg.CryptoGatewayURL, cfg.CryptoMerchantKey)
	}
	var links gateway.LinkCreator = gateway.NewMockLinkGateway()
	if cfg.QRGatewayURL != "" {
		links = gateway.NewQRClient(cfg.QRGatewayURL, cfg.QRMerchant)
	}

	ledgerSvc := service.NewLedgerService(store)
	depositSvc := service.NewDepositService(store, store, store, notifier)
	dispatcher := service.NewPaymentDispatcher(depositSvc, crypto, links, service.DispatcherOptions{
		Currency:              cfg.Currency,
		InvoiceLifetimeMin:    int(cfg.InvoiceLifetime.Minutes()),
		FeePaidByPayer:        cfg.FeePaidByPayer,
		UnderPaidCoverPercent: cfg.UnderPaidCoverPercent,
		InvoiceCallbackURL:    cfg.InvoiceCallbackURL,
		LinkCallbackURL:       cfg.LinkCallbackURL,
	})
	voucherSvc := service.NewVoucherService(store)
	reconSvc := service.NewReconciliationService(store)

	expiryWorker := worker.NewExpiryWorker(depositSvc, cfg.InvoiceLifetime).
		WithPollInterval(cfg.ExpirySweepInterval).
		WithBatchSize(cfg.ExpiryBatchSize)
	stopExpiry := expiryWorker.Run(ctx)

	reconWorker := worker.NewReconciliationWorker(reconSvc).
		WithInterval(cfg.ReconciliationInterval)
	stopRecon := reconWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore,
		ledgerSvc, depositSvc, dispatcher, voucherSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopExpiry()
	stopRecon()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
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
