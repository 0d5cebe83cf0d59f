package inventory

// StockChangedEvent is emitted after a mutation commits.
type StockChangedEvent struct {
	ProductID  string
	SKU        string
	Name       string
	Direction  Direction
	Quantity   int
	Source     string
	StockAfter int
	MinStock   int
}

// BelowReorder reports whether the product reached its reorder threshold.
func (e StockChangedEvent) BelowReorder() bool {
	return e.StockAfter <= e.MinStock
}
