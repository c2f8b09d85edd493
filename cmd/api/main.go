package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/fulfillment-backend/api/controllers"
	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/api/routes"
	"github.com/angelmondragon/fulfillment-backend/internal/assignment"
	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/ratings"
	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/internal/stock"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/migrate"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.ForService("api", cfg.App)

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orderMetrics := metrics.NewOrderMetrics(registry)

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient, orderMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	deps.Gatherer = registry

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(*deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, orderMetrics *metrics.OrderMetrics) (*routes.Dependencies, error) {
	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	broker, err := realtime.NewBroker(redisClient, logg)
	if err != nil {
		return nil, err
	}

	ledger, err := stock.NewLedger(stock.LedgerParams{
		DB:      conn,
		Tx:      dbClient,
		Outbox:  outboxService,
		Metrics: orderMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	carts, err := cart.NewManager(cart.NewRepository(conn), dbClient, logg)
	if err != nil {
		return nil, err
	}

	notificationsRepo := notifications.NewRepository(conn)
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:      notificationsRepo,
		Publisher: broker,
		Metrics:   orderMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}
	notificationsService, err := notifications.NewService(notificationsRepo, cfg.Notifications, logg)
	if err != nil {
		return nil, err
	}

	fees, err := orders.NewFeeSchedule(cfg.Orders)
	if err != nil {
		return nil, err
	}
	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(conn),
		Tx:         dbClient,
		Outbox:     outboxService,
		Stock:      ledger,
		Carts:      carts,
		Dispatcher: dispatcher,
		Fees:       fees,
		Metrics:    orderMetrics,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}

	arbiter, err := assignment.NewArbiter(assignment.ArbiterParams{
		Repo:       assignment.NewRepository(conn),
		Tx:         dbClient,
		Outbox:     outboxService,
		Dispatcher: dispatcher,
		Drivers:    broker,
		Metrics:    orderMetrics,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}

	ratingsLedger, err := ratings.NewLedger(conn, logg)
	if err != nil {
		return nil, err
	}

	retryOpts := realtime.RetryOptions(cfg.Realtime)
	sessions := func(userID uuid.UUID, role enums.ActorRole) controllers.RealtimeSession {
		return broker.NewSession(userID, role, retryOpts)
	}

	var claimLimiter middleware.ActorLimiter = middleware.NewActorRateLimiter(cfg.RateLimit)
	if strings.EqualFold(cfg.RateLimit.Backend, config.RateLimitBackendRedis) {
		claimLimiter, err = middleware.NewSharedRateLimiter(redisClient, "claim", cfg.RateLimit)
		if err != nil {
			return nil, err
		}
	}

	return &routes.Dependencies{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Carts:         carts,
		Orders:        ordersService,
		Ratings:       ratingsLedger,
		Stock:         ledger,
		Arbiter:       arbiter,
		Notifications: notificationsService,
		Sessions:      sessions,
		ClaimLimiter:  claimLimiter,
	}, nil
}
