package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/billbook/billbook/internal/app"
	"github.com/billbook/billbook/internal/customers"
	"github.com/billbook/billbook/internal/inventory"
	"github.com/billbook/billbook/internal/invoicing"
	"github.com/billbook/billbook/internal/observability"
	"github.com/billbook/billbook/internal/platform/cache"
	"github.com/billbook/billbook/internal/platform/db"
	"github.com/billbook/billbook/internal/shared"
	"github.com/billbook/billbook/jobs"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.InTestMode() {
				slog.Default().Info("test mode detected, skipping runtime startup")
				return nil
			}
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.DBAutoMigrate {
		if err := db.Migrate(cfg.PGDSN, false); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	loc := cfg.Location()

	inventoryCache := cache.NewVersioned(redisClient, "inventory", cfg.CacheTTL)
	invoiceCache := cache.NewVersioned(redisClient, "invoices", cfg.CacheTTL)
	for _, c := range []*cache.Versioned{inventoryCache, invoiceCache} {
		if err := c.ListenForInvalidation(ctx); err != nil {
			logger.Warn("cache invalidation listener", slog.Any("error", err))
		}
	}

	alerter := inventory.NewLowStockAlerter(redisClient, inventory.DefaultAlertTTL, logger)
	inventoryRepo := inventory.NewRepository(pool, cfg.DBLockTimeout)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, inventory.ServiceConfig{
		Cache:    inventoryCache,
		Metrics:  metrics,
		Listener: alerter,
		Logger:   logger,
		Location: loc,
	})

	invoiceRepo := invoicing.NewRepository(pool, cfg.DBLockTimeout, logger)
	invoiceService := invoicing.NewService(invoiceRepo, inventoryService, invoicing.ServiceConfig{
		Policy: invoicing.TotalsPolicy{
			RejectNegativeTotal:        cfg.InvoiceRejectNegativeTotal,
			RejectDiscountOverSubtotal: cfg.InvoiceRejectDiscountOverSubtotal,
			RejectNegativeAmounts:      cfg.InvoiceRejectNegativeAmounts,
		},
		Idempotency: idempotencyStore,
		Audit:       auditLogger,
		Cache:       invoiceCache,
		Metrics:     metrics,
		Logger:      logger,
		Location:    loc,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		InvoiceHandler:   invoicing.NewHandler(logger, invoiceService),
		CustomerHandler:  customers.NewHandler(customers.NewRepository(pool)),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// connectRedis returns nil when Redis is unreachable so caching and alert
// de-duplication degrade instead of blocking startup.
func connectRedis(ctx context.Context, cfg *app.Config, logger *slog.Logger) *redis.Client {
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without cache", slog.Any("error", err))
		return nil
	}
	return client
}
