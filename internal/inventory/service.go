package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/billbook/billbook/internal/platform/cache"
	"github.com/billbook/billbook/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTransactions(ctx context.Context, filter TransactionFilter, since time.Time) (TransactionPage, error)
	LowStock(ctx context.Context, limit int) ([]LowStockItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives stock movement counters.
type MetricsPort interface {
	ObserveMovement(direction, source string)
	ObserveRejection(reason string)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache    *cache.Versioned
	Metrics  MetricsPort
	Listener StockListener
	Logger   *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// Service coordinates stock mutations and ledger reads.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	cache    *cache.Versioned
	metrics  MetricsPort
	listener StockListener
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		listener: cfg.Listener,
		logger:   logger,
		loc:      loc,
		now:      now,
	}
}

// Apply locks the referenced product, writes the new stock and appends one ledger
// entry. It runs inside the caller's transaction and never commits.
func (s *Service) Apply(ctx context.Context, tx TxRepository, m Movement) (Applied, error) {
	if m.Quantity <= 0 {
		return Applied{}, ErrInvalidQuantity
	}
	if m.Quantity > MaxStock {
		return Applied{}, ErrQuantityTooLarge
	}
	if !m.Direction.Valid() {
		return Applied{}, fmt.Errorf("%w: direction must be IN or OUT", shared.ErrInvalidArgument)
	}
	if m.Product.Empty() {
		return Applied{}, fmt.Errorf("%w: product id or sku required", shared.ErrInvalidArgument)
	}
	if strings.TrimSpace(m.Source) == "" {
		return Applied{}, fmt.Errorf("%w: source required", shared.ErrInvalidArgument)
	}

	product, err := tx.GetProductForUpdate(ctx, m.Product)
	if err != nil {
		return Applied{}, err
	}
	before := product.Stock
	if m.Direction == DirectionIn && m.Quantity > MaxStock-before {
		return Applied{}, fmt.Errorf("%w: %s has %d on hand", ErrQuantityTooLarge, product.Name, before)
	}
	after := before + m.Quantity
	if m.Direction == DirectionOut {
		after = before - m.Quantity
	}
	if after < 0 {
		return Applied{}, &InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   m.Quantity,
			Available:   before,
		}
	}
	if err := tx.UpdateStock(ctx, product.ID, after); err != nil {
		return Applied{}, fmt.Errorf("inventory: update stock: %w", err)
	}
	entry := Entry{
		ID:          uuid.NewString(),
		ProductID:   product.ID,
		Direction:   m.Direction,
		Quantity:    m.Quantity,
		Source:      m.Source,
		Reason:      strings.TrimSpace(m.Reason),
		Reference:   m.Reference,
		CreatedBy:   m.ActorID,
		StockBefore: before,
		StockAfter:  after,
		CreatedAt:   s.now().In(s.loc),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return Applied{}, fmt.Errorf("inventory: insert ledger entry: %w", err)
	}
	product.Stock = after
	return Applied{Entry: entry, Product: product}, nil
}

// LockOrder resolves refs to product ids without locking and returns the ref
// indexes sorted by product id, with every ref rewritten to its id. Callers that
// lock several products in one transaction apply them in this order, so two
// transactions naming the same products by SKU and by id still lock alike.
func LockOrder(ctx context.Context, tx TxRepository, refs []ProductRef) ([]int, []ProductRef, error) {
	resolved := make([]ProductRef, len(refs))
	order := make([]int, len(refs))
	for i, ref := range refs {
		if ref.Empty() {
			return nil, nil, fmt.Errorf("%w: product id or sku required", shared.ErrInvalidArgument)
		}
		id, err := tx.LookupProductID(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		resolved[i] = ProductRef{ID: id}
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return resolved[order[a]].ID < resolved[order[b]].ID
	})
	return order, resolved, nil
}

// Adjust applies a single movement in its own transaction.
func (s *Service) Adjust(ctx context.Context, m Movement) (Entry, error) {
	if m.ActorID == "" {
		m.ActorID = shared.ActorFromContext(ctx)
	}
	var applied Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		applied, err = s.Apply(ctx, tx, m)
		return err
	})
	if err != nil {
		s.ObserveFailure(err)
		return Entry{}, err
	}
	s.AfterCommit(ctx, applied)
	return applied.Entry, nil
}

// MaterialInward restocks a product.
func (s *Service) MaterialInward(ctx context.Context, input InwardInput) (Entry, error) {
	return s.Adjust(ctx, Movement{
		Product:   input.Product,
		Direction: DirectionIn,
		Quantity:  input.Quantity,
		Source:    SourceMaterialInward,
		Reason:    input.Reason,
		ActorID:   input.ActorID,
	})
}

// MaterialOutward writes off stock for shrinkage, damage or internal use.
func (s *Service) MaterialOutward(ctx context.Context, input OutwardInput) (Entry, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return Entry{}, ErrReasonRequired
	}
	return s.Adjust(ctx, Movement{
		Product:   input.Product,
		Direction: DirectionOut,
		Quantity:  input.Quantity,
		Source:    SourceMaterialOutward,
		Reason:    input.Reason,
		ActorID:   input.ActorID,
	})
}

// AfterCommit runs the side effects of committed mutations. Failures are logged, never returned.
func (s *Service) AfterCommit(ctx context.Context, applied ...Applied) {
	if len(applied) == 0 {
		return
	}
	for _, a := range applied {
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(a.Entry.Direction), a.Entry.Source)
		}
		if s.audit != nil && a.Entry.Source != SourceInvoice {
			if err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  a.Entry.CreatedBy,
				Action:   "inventory:" + strings.ToLower(a.Entry.Source),
				Entity:   "inventory_transaction",
				EntityID: a.Entry.ID,
				Meta: map[string]any{
					"product_id":   a.Entry.ProductID,
					"quantity":     a.Entry.Quantity,
					"stock_before": a.Entry.StockBefore,
					"stock_after":  a.Entry.StockAfter,
					"reason":       a.Entry.Reason,
				},
			}); err != nil {
				s.logger.Warn("inventory audit record failed", slog.String("entry_id", a.Entry.ID), slog.Any("error", err))
			}
		}
		if s.listener != nil {
			evt := StockChangedEvent{
				ProductID:  a.Product.ID,
				SKU:        a.Product.SKU,
				Name:       a.Product.Name,
				Direction:  a.Entry.Direction,
				Quantity:   a.Entry.Quantity,
				Source:     a.Entry.Source,
				StockAfter: a.Entry.StockAfter,
				MinStock:   a.Product.MinStock,
			}
			if err := s.listener.HandleStockChanged(ctx, evt); err != nil {
				s.logger.Warn("stock listener failed", slog.String("product_id", evt.ProductID), slog.Any("error", err))
			}
		}
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("inventory cache bump failed", slog.Any("error", err))
	}
}

// ObserveFailure counts a rolled back mutation by its error class.
func (s *Service) ObserveFailure(err error) {
	if s.metrics == nil || err == nil {
		return
	}
	s.metrics.ObserveRejection(rejectionReason(err))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, shared.ErrContention):
		return "contention"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

// ListTransactions returns ledger history, served from the versioned cache when available.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return TransactionPage{}, fmt.Errorf("%w: type must be IN or OUT", shared.ErrInvalidArgument)
	}
	if filter.Days < 0 {
		return TransactionPage{}, fmt.Errorf("%w: days must be >= 0", shared.ErrInvalidArgument)
	}
	if filter.Limit == 0 {
		filter.Limit = 30
	}
	pg, err := shared.PageRequest{Page: filter.Page, Limit: filter.Limit}.Normalize()
	if err != nil {
		return TransactionPage{}, err
	}
	filter.Page, filter.Limit = pg.Page, pg.Limit

	var since time.Time
	if filter.Days > 0 {
		since = s.now().In(s.loc).Add(-time.Duration(filter.Days) * 24 * time.Hour)
	}
	key, err := s.cache.BuildKey(ctx, "transactions", filter.ProductID, string(filter.Direction),
		strconv.Itoa(filter.Days), strconv.Itoa(filter.Page), strconv.Itoa(filter.Limit))
	if err != nil {
		s.logger.Warn("inventory cache key failed", slog.Any("error", err))
		return s.repo.ListTransactions(ctx, filter, since)
	}
	var page TransactionPage
	err = s.cache.FetchJSON(ctx, key, &page, func(ctx context.Context) (any, error) {
		return s.repo.ListTransactions(ctx, filter, since)
	})
	if err != nil {
		return TransactionPage{}, err
	}
	return page, nil
}

// LowStock lists products at or below their reorder level.
func (s *Service) LowStock(ctx context.Context, limit int) ([]LowStockItem, error) {
	return s.repo.LowStock(ctx, limit)
}
