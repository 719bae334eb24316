package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/adapter/authz"
	"github.com/rl1809/stock-workflow/internal/adapter/handler"
	"github.com/rl1809/stock-workflow/internal/adapter/observability"
	"github.com/rl1809/stock-workflow/internal/adapter/storage"
	"github.com/rl1809/stock-workflow/internal/config"
	"github.com/rl1809/stock-workflow/internal/core/service"
	"github.com/rl1809/stock-workflow/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, telErr := observability.Setup(ctx, observability.Options{Endpoint: cfg.OTelEndpoint, Insecure: cfg.OTelInsecure})
	logger, err := observability.NewLogger(cfg.LogLevel, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if telErr != nil {
		logger.Error("telemetry export disabled", zap.String("endpoint", cfg.OTelEndpoint), zap.Error(telErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	idem, closeIdem, err := openIdempotency(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeIdem()

	gate, err := authz.NewGate(authz.DefaultPolicy, logger)
	if err != nil {
		return err
	}
	coord := service.NewCoordinator(store, gate, service.RestockPolicy{
		Multiplier:        cfg.RestockMultiplier,
		DefaultSupplierID: cfg.DefaultSupplierID,
	}, logger)
	audit := service.NewAuditLog(store, coord, cfg.AuditQueueSize, logger)

	svc := handler.Services{
		Accounts: service.NewAccountService(store, coord),
		Inventory: service.NewInventoryService(store, coord, audit, service.InventoryConfig{
			DefaultLowStockThreshold: cfg.DefaultLowStockThreshold,
			PageSize:                 cfg.PageSize,
			MaxPageSize:              cfg.MaxPageSize,
		}, logger),
		Requests: service.NewRequestService(store, coord, idem, audit, coord, logger),
		Orders:   service.NewOrderService(store, coord, idem, audit, logger),
		Audit:    audit,
	}

	// Start audit worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.AuditWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			audit.Drain(id, cfg.OperationTimeout)
		}(i)
	}
	logger.Info("started audit workers", zap.Int("count", cfg.AuditWorkers))

	grpcServer, health := handler.NewGRPCHandler(svc, cfg.OperationTimeout, logger).NewServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(svc, cfg.OperationTimeout, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	health.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close audit queue and wait for workers
	audit.Close()
	wg.Wait()
	logger.Info("audit workers stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.Store, func(), error) {
	accounts, err := cfg.Accounts()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Storage == config.StorageMemory {
		store := storage.NewMemoryAdapter()
		for _, acc := range accounts {
			store.PutAccount(acc)
		}
		logger.Info("using in-memory store", zap.Int("accounts", len(accounts)))
		return store, func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	store := storage.NewMySQLAdapter(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	for _, acc := range accounts {
		if err := store.PutAccount(ctx, acc); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("seed account %s: %w", acc.ID, err)
		}
	}
	return store, func() { db.Close() }, nil
}

func openIdempotency(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.IdempotencyStore, func(), error) {
	if cfg.RedisAddr == "" {
		return storage.NewMemoryIdempotency(cfg.IdempotencyTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	return storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL), func() { rdb.Close() }, nil
}
