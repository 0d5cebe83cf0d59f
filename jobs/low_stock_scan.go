package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/billbook/billbook/internal/inventory"
	jobmetrics "github.com/billbook/billbook/internal/jobs"
)

const defaultLowStockLimit = 500

// LowStockSource lists products at or below their reorder level.
type LowStockSource interface {
	LowStock(ctx context.Context, limit int) ([]inventory.LowStockItem, error)
}

// LowStockNotifier raises de-duplicated alerts and reports how many were new.
type LowStockNotifier interface {
	Alert(ctx context.Context, items []inventory.LowStockItem) (int, error)
}

// LowStockScanJob periodically scans the catalog for products that need reordering.
type LowStockScanJob struct {
	Source   LowStockSource
	Notifier LowStockNotifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low-stock scan handler.
func NewLowStockScanJob(source LowStockSource, notifier LowStockNotifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Source: source, Notifier: notifier, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultLowStockLimit
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskLowStockScan)
	logger := j.logger().With(slog.Int("limit", payload.Limit))

	items, err := j.Source.LowStock(ctx, payload.Limit)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().SetLowStock(len(items))

	raised := 0
	if j.Notifier != nil && len(items) > 0 {
		raised, err = j.Notifier.Alert(ctx, items)
		j.metrics().AddAlerts(raised)
		if err != nil {
			logger.Error("alerting failed", slog.Int("raised", raised), slog.Any("error", err))
			return tracker.End(err)
		}
	}

	logger.Info("completed low stock scan",
		slog.Int("low_stock", len(items)),
		slog.Int("alerts", raised),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
