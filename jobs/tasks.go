package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/billbook/billbook/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan lists products at or below their reorder level and raises alerts.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockScanPayload bounds a scan.
type LowStockScanPayload struct {
	Limit int `json:"limit"`
}

// IdempotencyCleanupPayload overrides the configured retention when positive.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task for idempotency key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewTask builds a task by name with default payload, used by the CLI trigger.
func NewTask(name string) (*asynq.Task, error) {
	switch name {
	case TaskLowStockScan, "low_stock_scan":
		return NewLowStockScanTask(0)
	case TaskIdempotencyCleanup, "idempotency_cleanup":
		return NewIdempotencyCleanupTask(0)
	default:
		return nil, fmt.Errorf("jobs: unknown task %q", name)
	}
}
