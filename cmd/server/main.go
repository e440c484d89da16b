package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"walletflow/internal/api"
	"walletflow/internal/config"
	"walletflow/internal/db"
	"walletflow/internal/gateway"
	"walletflow/internal/guard"
	"walletflow/internal/identity"
	"walletflow/internal/ledger"
	"walletflow/internal/logging"
	"walletflow/internal/middleware"
	"walletflow/internal/moneyrequest"
	"walletflow/internal/notify"
	"walletflow/internal/payment"
	"walletflow/internal/routes"
	"walletflow/internal/session"
)

const limiterCleanupInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		database *sql.DB
		store    ledger.Store
	)
	switch cfg.LedgerBackend {
	case "memory":
		logger.Warn("using in-memory ledger; balances are lost on restart")
		store = ledger.NewMemory()
	default:
		var err error
		database, err = db.InitDB(cfg.DB)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close()
		logger.Info("connected to database", zap.String("host", cfg.DB.Host), zap.String("name", cfg.DB.Name))
		store = ledger.NewPostgres(database, logger)
	}

	var (
		ident    session.Identity
		accounts api.Accounts
	)
	switch cfg.Identity.Mode {
	case "remote":
		ident = identity.NewRemote(cfg.Identity.BaseURL, cfg.Identity.Timeout, logger)
	default:
		local := identity.NewLocal(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
		ident, accounts = local, local
	}

	redisClient := newRedisClient(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}
	events := notify.NewEmitter(newPublisher(cfg.Redis, redisClient, logger), logger)

	table := routes.DefaultTable()
	if cfg.RoutesFile != "" {
		var err error
		if table, err = routes.LoadTable(cfg.RoutesFile); err != nil {
			return err
		}
		logger.Info("loaded capability table", zap.String("path", cfg.RoutesFile), zap.Int("capabilities", len(table)))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	limiter.StartCleanup(ctx, limiterCleanupInterval)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		CheckoutURL: cfg.Gateway.CheckoutURL,
		APIKey:      cfg.Gateway.APIKey,
		Timeout:     cfg.Gateway.Timeout,
	}, logger)

	server, err := api.NewServer(api.Deps{
		Identity: ident,
		Accounts: accounts,
		Guard: guard.New(guard.Targets{
			Login:           cfg.Redirects.Login,
			PendingApproval: cfg.Redirects.PendingApproval,
			Unauthorized:    cfg.Redirects.Unauthorized,
		}),
		Table:    table,
		Requests: moneyrequest.NewService(store, events, logger),
		Payments: payment.NewService(store, gw, events, cfg.Payment.ClaimLease, logger),
		Limiter:  limiter,
		Ready:    readiness(database, redisClient),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      server.RegisterRoutes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// newPublisher always logs invalidations and also publishes them on Redis
// when a broker is configured.
func newPublisher(cfg config.RedisConfig, client *redis.Client, logger *zap.Logger) notify.Publisher {
	logPub := notify.NewLog(logger)
	if client == nil {
		return logPub
	}
	return notify.Multi{logPub, notify.NewRedis(client, cfg.Channel)}
}

func readiness(database *sql.DB, client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if database != nil {
			if err := database.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
