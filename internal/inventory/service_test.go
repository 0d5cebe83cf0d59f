package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/billbook/billbook/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	products map[string]Product
	entries  []Entry
	locks    []string
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(products ...Product) *memoryRepo {
	repo := &memoryRepo{products: make(map[string]Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

// WithTx serialises transactions the way a row lock on the product would and
// restores the snapshot when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make(map[string]Product, len(r.products))
	for k, v := range r.products {
		products[k] = v
	}
	entries := len(r.entries)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.entries = r.entries[:entries]
		return err
	}
	return nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, filter TransactionFilter, since time.Time) (TransactionPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := TransactionPage{Page: filter.Page, Limit: filter.Limit, Data: []TransactionRow{}}
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if filter.ProductID != "" && e.ProductID != filter.ProductID {
			continue
		}
		if filter.Direction != "" && e.Direction != filter.Direction {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		page.Total++
		p := r.products[e.ProductID]
		page.Data = append(page.Data, TransactionRow{Entry: e, ProductName: p.Name, ProductCode: p.Code})
	}
	return page, nil
}

func (r *memoryRepo) LowStock(ctx context.Context, limit int) ([]LowStockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []LowStockItem
	for _, p := range r.products {
		if p.Stock <= p.MinStock {
			items = append(items, LowStockItem{ProductID: p.ID, SKU: p.SKU, Name: p.Name, Stock: p.Stock, MinStock: p.MinStock})
		}
	}
	return items, nil
}

func (tx *memoryTx) find(ref ProductRef) (Product, error) {
	for _, p := range tx.repo.products {
		if (ref.SKU != "" && p.SKU == ref.SKU) || (ref.SKU == "" && p.ID == ref.ID) {
			return p, nil
		}
	}
	return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, ref)
}

func (tx *memoryTx) LookupProductID(ctx context.Context, ref ProductRef) (string, error) {
	p, err := tx.find(ref)
	return p.ID, err
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, ref ProductRef) (Product, error) {
	tx.repo.locks = append(tx.repo.locks, ref.String())
	return tx.find(ref)
}

func (tx *memoryTx) UpdateStock(ctx context.Context, productID string, stock int) error {
	p, ok := tx.repo.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) error {
	tx.repo.entries = append(tx.repo.entries, entry)
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	movements  []string
	rejections []string
}

func (m *recordingMetrics) ObserveMovement(direction, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, direction+":"+source)
}

func (m *recordingMetrics) ObserveRejection(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, reason)
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type recordingListener struct {
	events []StockChangedEvent
}

func (l *recordingListener) HandleStockChanged(ctx context.Context, evt StockChangedEvent) error {
	l.events = append(l.events, evt)
	return nil
}

func widget(stock int) Product {
	return Product{
		ID:           "p-widget",
		Code:         "PRD-20240401-AB12",
		SKU:          "WID-1",
		Name:         "Widget",
		SellingPrice: decimal.NewFromInt(100),
		Stock:        stock,
		MinStock:     5,
	}
}

func TestMaterialInwardIncreasesStock(t *testing.T) {
	repo := newMemoryRepo(widget(10))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	entry, err := svc.MaterialInward(ctx, InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 15, ActorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, DirectionIn, entry.Direction)
	require.Equal(t, 10, entry.StockBefore)
	require.Equal(t, 25, entry.StockAfter)
	require.Equal(t, SourceMaterialInward, entry.Source)
	require.Equal(t, "u1", entry.CreatedBy)
	require.Equal(t, 25, repo.products["p-widget"].Stock)
	require.Len(t, repo.entries, 1)
}

func TestMaterialOutwardDamageScenario(t *testing.T) {
	repo := newMemoryRepo(widget(50))
	svc := NewService(repo, nil, ServiceConfig{})

	entry, err := svc.MaterialOutward(context.Background(), OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 7, Reason: "damage", ActorID: "u1"})
	require.NoError(t, err)
	require.Equal(t, DirectionOut, entry.Direction)
	require.Equal(t, 7, entry.Quantity)
	require.Equal(t, 50, entry.StockBefore)
	require.Equal(t, 43, entry.StockAfter)
	require.Equal(t, "damage", entry.Reason)
	require.Equal(t, 43, repo.products["p-widget"].Stock)
}

func TestMaterialOutwardInsufficientStockLeavesNoTrace(t *testing.T) {
	repo := newMemoryRepo(widget(3))
	metrics := &recordingMetrics{}
	svc := NewService(repo, nil, ServiceConfig{Metrics: metrics})

	_, err := svc.MaterialOutward(context.Background(), OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 10, Reason: "damage"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	stockErr, ok := AsInsufficientStock(err)
	require.True(t, ok)
	require.Equal(t, "Widget", stockErr.ProductName)
	require.Equal(t, 10, stockErr.Requested)
	require.Equal(t, 3, stockErr.Available)

	require.Equal(t, 3, repo.products["p-widget"].Stock)
	require.Empty(t, repo.entries)
	require.Equal(t, []string{"insufficient_stock"}, metrics.rejections)
	require.Empty(t, metrics.movements)
}

func TestMaterialOutwardRequiresReason(t *testing.T) {
	repo := newMemoryRepo(widget(3))
	svc := NewService(repo, nil, ServiceConfig{})

	_, err := svc.MaterialOutward(context.Background(), OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 1, Reason: "  "})
	require.ErrorIs(t, err, ErrReasonRequired)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	require.Empty(t, repo.locks)
}

func TestAdjustRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryRepo(widget(3))
	svc := NewService(repo, nil, ServiceConfig{})

	for _, qty := range []int{0, -4} {
		_, err := svc.MaterialInward(context.Background(), InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: qty})
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
	}
	require.Empty(t, repo.locks)
	require.Empty(t, repo.entries)
}

func TestAdjustRejectsQuantityAboveMaxStock(t *testing.T) {
	repo := newMemoryRepo(widget(50))
	metrics := &recordingMetrics{}
	svc := NewService(repo, nil, ServiceConfig{Metrics: metrics})
	ctx := context.Background()

	for _, qty := range []int{math.MaxInt64, MaxStock + 1} {
		_, err := svc.MaterialInward(ctx, InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: qty})
		require.ErrorIs(t, err, ErrQuantityTooLarge)
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
		require.NotErrorIs(t, err, shared.ErrInsufficientStock)

		_, err = svc.MaterialOutward(ctx, OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: qty, Reason: "damage"})
		require.ErrorIs(t, err, ErrQuantityTooLarge)
	}
	require.Empty(t, repo.locks)
	require.Equal(t, 50, repo.products["p-widget"].Stock)
	require.Equal(t, []string{"invalid_argument", "invalid_argument", "invalid_argument", "invalid_argument"}, metrics.rejections)
}

func TestMaterialInwardRejectsStockAboveMaxStock(t *testing.T) {
	repo := newMemoryRepo(widget(50))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.MaterialInward(ctx, InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: MaxStock - 49})
	require.ErrorIs(t, err, ErrQuantityTooLarge)
	require.NotErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 50, repo.products["p-widget"].Stock)
	require.Empty(t, repo.entries)

	entry, err := svc.MaterialInward(ctx, InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: MaxStock - 50})
	require.NoError(t, err)
	require.Equal(t, MaxStock, entry.StockAfter)
}

func TestLockOrderSortsByResolvedProductID(t *testing.T) {
	a := widget(5)
	a.ID, a.SKU = "pa", "ZZZ"
	b := widget(5)
	b.ID, b.SKU = "pb", "AAA"
	repo := newMemoryRepo(a, b)
	tx := &memoryTx{repo: repo}
	ctx := context.Background()

	first, firstRefs, err := LockOrder(ctx, tx, []ProductRef{{ID: "pb"}, {SKU: "ZZZ"}})
	require.NoError(t, err)
	second, secondRefs, err := LockOrder(ctx, tx, []ProductRef{{ID: "pa"}, {SKU: "AAA"}})
	require.NoError(t, err)

	require.Equal(t, []int{1, 0}, first)
	require.Equal(t, []ProductRef{{ID: "pb"}, {ID: "pa"}}, firstRefs)
	require.Equal(t, []int{0, 1}, second)
	require.Equal(t, []ProductRef{{ID: "pa"}, {ID: "pb"}}, secondRefs)
	require.Empty(t, repo.locks)

	_, _, err = LockOrder(ctx, tx, []ProductRef{{ID: "pa"}, {SKU: "missing"}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, _, err = LockOrder(ctx, tx, []ProductRef{{}})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestAdjustUnknownProduct(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{})
	_, err := svc.MaterialInward(context.Background(), InwardInput{Product: ProductRef{SKU: "missing"}, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyPrefersSKU(t *testing.T) {
	repo := newMemoryRepo(widget(5))
	svc := NewService(repo, nil, ServiceConfig{})
	_, err := svc.Adjust(context.Background(), Movement{
		Product:   ProductRef{ID: "does-not-exist", SKU: "WID-1"},
		Direction: DirectionIn,
		Quantity:  1,
		Source:    SourceMaterialInward,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sku WID-1"}, repo.locks)
	require.Equal(t, 6, repo.products["p-widget"].Stock)
}

func TestAdjustTakesActorFromContext(t *testing.T) {
	repo := newMemoryRepo(widget(5))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := shared.ContextWithActor(context.Background(), "clerk-7")
	entry, err := svc.MaterialInward(ctx, InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "clerk-7", entry.CreatedBy)
}

func TestApplyFailureRollsBackEarlierMutationsInSameTx(t *testing.T) {
	other := Product{ID: "p-gadget", SKU: "GAD-1", Name: "Gadget", Stock: 1}
	repo := newMemoryRepo(widget(10), other)
	svc := NewService(repo, nil, ServiceConfig{})

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		if _, err := svc.Apply(ctx, tx, Movement{Product: ProductRef{ID: "p-widget"}, Direction: DirectionOut, Quantity: 4, Source: SourceInvoice}); err != nil {
			return err
		}
		_, err := svc.Apply(ctx, tx, Movement{Product: ProductRef{ID: "p-gadget"}, Direction: DirectionOut, Quantity: 2, Source: SourceInvoice})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 10, repo.products["p-widget"].Stock)
	require.Equal(t, 1, repo.products["p-gadget"].Stock)
	require.Empty(t, repo.entries)
}

func TestConcurrentOutwardNeverDrivesStockNegative(t *testing.T) {
	for round := 0; round < 20; round++ {
		repo := newMemoryRepo(widget(10))
		svc := NewService(repo, nil, ServiceConfig{})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, qty := range []int{6, 7} {
			wg.Add(1)
			go func(i, qty int) {
				defer wg.Done()
				_, errs[i] = svc.MaterialOutward(context.Background(), OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: qty, Reason: "race"})
			}(i, qty)
		}
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, shared.ErrInsufficientStock)
				failures++
			}
		}
		require.Equal(t, 1, failures)
		require.Len(t, repo.entries, 1)
		entry := repo.entries[0]
		require.Equal(t, 10, entry.StockBefore)
		require.Equal(t, entry.StockAfter, repo.products["p-widget"].Stock)
		require.GreaterOrEqual(t, repo.products["p-widget"].Stock, 0)
	}
}

func TestAfterCommitEffects(t *testing.T) {
	repo := newMemoryRepo(widget(8))
	metrics := &recordingMetrics{}
	audit := &recordingAudit{}
	listener := &recordingListener{}
	svc := NewService(repo, audit, ServiceConfig{Metrics: metrics, Listener: listener})

	entry, err := svc.MaterialOutward(context.Background(), OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 4, Reason: "shrinkage", ActorID: "u9"})
	require.NoError(t, err)

	require.Equal(t, []string{"OUT:MATERIAL_OUTWARD"}, metrics.movements)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:material_outward", audit.logs[0].Action)
	require.Equal(t, entry.ID, audit.logs[0].EntityID)
	require.Equal(t, "u9", audit.logs[0].ActorID)
	require.Len(t, listener.events, 1)
	require.True(t, listener.events[0].BelowReorder())
	require.Equal(t, 4, listener.events[0].StockAfter)
}

func TestListTransactionsValidatesFilter(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.ListTransactions(ctx, TransactionFilter{Direction: "SIDEWAYS"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = svc.ListTransactions(ctx, TransactionFilter{Days: -1})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = svc.ListTransactions(ctx, TransactionFilter{Limit: shared.MaxPerPage + 1})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = svc.ListTransactions(ctx, TransactionFilter{Page: -2})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestListTransactionsFiltersAndDefaults(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(widget(10))
	svc := NewService(repo, nil, ServiceConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	_, err := svc.MaterialInward(ctx, InwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.MaterialOutward(ctx, OutwardInput{Product: ProductRef{ID: "p-widget"}, Quantity: 1, Reason: "sample"})
	require.NoError(t, err)
	repo.entries = append(repo.entries, Entry{ID: "old", ProductID: "p-widget", Direction: DirectionIn, Quantity: 1, CreatedAt: now.AddDate(0, 0, -40)})

	page, err := svc.ListTransactions(ctx, TransactionFilter{Direction: DirectionOut})
	require.NoError(t, err)
	require.Equal(t, 30, page.Limit)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "Widget", page.Data[0].ProductName)

	page, err = svc.ListTransactions(ctx, TransactionFilter{Days: 7})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}

func TestRejectionReason(t *testing.T) {
	require.Equal(t, "contention", rejectionReason(fmt.Errorf("x: %w", shared.ErrContention)))
	require.Equal(t, "not_found", rejectionReason(ErrProductNotFound))
	require.Equal(t, "error", rejectionReason(errors.New("boom")))
}
