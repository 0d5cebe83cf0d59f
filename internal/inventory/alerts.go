package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/billbook/billbook/internal/shared"
)

// DefaultAlertTTL suppresses repeat alerts for the same product.
const DefaultAlertTTL = 24 * time.Hour

// LowStockAlerter raises one alert per product per TTL window.
type LowStockAlerter struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLowStockAlerter constructs the alerter. A nil client logs every alert.
func NewLowStockAlerter(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LowStockAlerter {
	if ttl <= 0 {
		ttl = DefaultAlertTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LowStockAlerter{client: client, ttl: ttl, logger: logger}
}

// Alert raises alerts for items not already alerted within the TTL and returns how many were raised.
func (a *LowStockAlerter) Alert(ctx context.Context, items []LowStockItem) (int, error) {
	raised := 0
	for _, item := range items {
		if a.client != nil {
			fresh, err := a.client.SetNX(ctx, shared.LowStockAlertKey(item.ProductID), item.Stock, a.ttl).Result()
			if err != nil {
				return raised, err
			}
			if !fresh {
				continue
			}
		}
		a.logger.Warn("low stock",
			slog.String("product_id", item.ProductID),
			slog.String("sku", item.SKU),
			slog.String("name", item.Name),
			slog.Int("stock", item.Stock),
			slog.Int("min_stock", item.MinStock))
		raised++
	}
	return raised, nil
}

// Clear drops the de-duplication marker once a product is restocked above its threshold.
func (a *LowStockAlerter) Clear(ctx context.Context, productID string) error {
	if a.client == nil {
		return nil
	}
	return a.client.Del(ctx, shared.LowStockAlertKey(productID)).Err()
}

// HandleStockChanged alerts when a committed mutation reaches the reorder level.
func (a *LowStockAlerter) HandleStockChanged(ctx context.Context, evt StockChangedEvent) error {
	if !evt.BelowReorder() {
		if evt.Direction == DirectionIn {
			return a.Clear(ctx, evt.ProductID)
		}
		return nil
	}
	_, err := a.Alert(ctx, []LowStockItem{{
		ProductID: evt.ProductID,
		SKU:       evt.SKU,
		Name:      evt.Name,
		Stock:     evt.StockAfter,
		MinStock:  evt.MinStock,
	}})
	return err
}
