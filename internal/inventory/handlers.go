package inventory

import "context"

// StockListener receives committed stock changes.
type StockListener interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}
