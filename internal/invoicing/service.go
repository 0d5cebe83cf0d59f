package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/billbook/billbook/internal/customers"
	"github.com/billbook/billbook/internal/inventory"
	"github.com/billbook/billbook/internal/platform/cache"
	"github.com/billbook/billbook/internal/shared"
)

// LedgerReason is written on every ledger entry created by an invoice.
const LedgerReason = "Invoice Sale"

const idempotencyModule = "invoices"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, q ListQuery) ([]Invoice, int, error)
}

// StockPort is the stock mutator as used by the composer.
type StockPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, m inventory.Movement) (inventory.Applied, error)
	AfterCommit(ctx context.Context, applied ...inventory.Applied)
	ObserveFailure(err error)
}

// IdempotencyPort guards against replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts committed invoices.
type MetricsPort interface {
	ObserveInvoice(lines int)
}

// ServiceConfig groups optional settings and collaborators.
type ServiceConfig struct {
	Policy      TotalsPolicy
	Idempotency IdempotencyPort
	Audit       AuditPort
	Cache       *cache.Versioned
	Metrics     MetricsPort
	Logger      *slog.Logger
	Location    *time.Location
	Now         func() time.Time
}

// Service composes invoices.
type Service struct {
	repo    RepositoryPort
	stock   StockPort
	policy  TotalsPolicy
	idem    IdempotencyPort
	audit   AuditPort
	cache   *cache.Versioned
	metrics MetricsPort
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:    repo,
		stock:   stock,
		policy:  cfg.Policy,
		idem:    cfg.Idempotency,
		audit:   cfg.Audit,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		loc:     cfg.Location,
		now:     cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateInvoice resolves the customer, deducts stock for every line, numbers the
// invoice and stores it, all in one transaction. Prices always come from the catalog.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	if err := s.policy.CheckAmounts(in.Tax, in.Discount); err != nil {
		return nil, err
	}
	if in.ActorID == "" {
		in.ActorID = shared.ActorFromContext(ctx)
	}

	insertedKey := false
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	now := s.now().In(s.loc)
	inv := Invoice{
		ID:            uuid.NewString(),
		Tax:           in.Tax,
		Discount:      in.Discount,
		PaymentStatus: in.PaymentStatus,
		CreatedBy:     in.ActorID,
		CreatedAt:     now,
	}
	var applied []inventory.Applied
	var customerCreated bool

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cust, created, err := customers.Resolve(ctx, tx, in.Customer, customers.NewFactory(func() time.Time { return now }))
		if err != nil {
			return err
		}
		customerCreated = created
		inv.CustomerID = cust.ID
		inv.CustomerName = cust.Name
		inv.CustomerPhone = cust.Phone
		inv.CustomerAddress = cust.Address

		refs := make([]inventory.ProductRef, len(in.Items))
		for i, it := range in.Items {
			refs[i] = it.ref()
		}
		order, resolved, err := inventory.LockOrder(ctx, tx, refs)
		if err != nil {
			return err
		}

		items := make([]LineItem, len(in.Items))
		applied = make([]inventory.Applied, 0, len(in.Items))
		for _, idx := range order {
			req := in.Items[idx]
			a, err := s.stock.Apply(ctx, tx, inventory.Movement{
				Product:   resolved[idx],
				Direction: inventory.DirectionOut,
				Quantity:  req.Quantity,
				Source:    inventory.SourceInvoice,
				Reason:    LedgerReason,
				ActorID:   in.ActorID,
				Reference: inv.ID,
			})
			if err != nil {
				return err
			}
			applied = append(applied, a)
			price := a.Product.SellingPrice
			items[idx] = LineItem{
				ProductID:   a.Product.ID,
				SKU:         a.Product.SKU,
				ProductName: a.Product.Name,
				Quantity:    req.Quantity,
				Price:       price,
				Total:       price.Mul(decimal.NewFromInt(int64(req.Quantity))),
			}
		}
		inv.Items = items
		inv.Subtotal, inv.Total = ComputeTotals(items, inv.Tax, inv.Discount)
		if err := s.policy.Check(inv.Subtotal, inv.Discount, inv.Total); err != nil {
			return err
		}

		number, fy, err := NextNumber(ctx, tx, now, s.loc)
		if err != nil {
			return err
		}
		inv.Number = number
		inv.FiscalYear = fy.Label()

		blob, err := EncodeItems(items)
		if err != nil {
			return err
		}
		return tx.InsertInvoice(ctx, inv, blob)
	})
	if err != nil {
		if insertedKey {
			if delErr := s.idem.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.Warn("idempotency key release failed", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		s.stock.ObserveFailure(err)
		return nil, err
	}

	s.stock.AfterCommit(ctx, applied...)
	if s.metrics != nil {
		s.metrics.ObserveInvoice(len(inv.Items))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "invoice:create",
			Entity:   "invoice",
			EntityID: inv.ID,
			Meta: map[string]any{
				"invoice_number":   inv.Number,
				"customer_id":      inv.CustomerID,
				"customer_created": customerCreated,
				"lines":            len(inv.Items),
				"total":            inv.Total.String(),
			},
		}); err != nil {
			s.logger.Warn("invoice audit record failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		}
	}
	s.bump(ctx)
	s.logger.Info("invoice created",
		slog.String("invoice_id", inv.ID),
		slog.String("invoice_number", inv.Number),
		slog.Int("lines", len(inv.Items)),
		slog.String("total", inv.Total.String()))
	inv.DisplayStatus = DeriveDisplayStatus(inv, now, s.loc)
	return &inv, nil
}

func validateCreate(in *CreateInvoiceInput) error {
	if len(in.Items) == 0 {
		return ErrNoItems
	}
	for i, it := range in.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be greater than 0", shared.ErrInvalidArgument, i)
		}
		if it.Quantity > inventory.MaxStock {
			return fmt.Errorf("item %d: %w", i, inventory.ErrQuantityTooLarge)
		}
		if it.ref().Empty() {
			return fmt.Errorf("%w: item %d needs product_id or sku", shared.ErrInvalidArgument, i)
		}
	}
	if in.PaymentStatus == "" {
		in.PaymentStatus = StatusPending
	}
	if in.PaymentStatus != StatusPending && in.PaymentStatus != StatusPaid {
		return fmt.Errorf("%w: new invoices must be pending or paid", shared.ErrInvalidArgument)
	}
	return nil
}

// ComputeTotals returns subtotal and subtotal + tax - discount.
func ComputeTotals(items []LineItem, tax, discount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Total)
	}
	return subtotal, subtotal.Add(tax).Sub(discount)
}

// CheckAmounts applies the configured validation of the requested tax and discount.
func (p TotalsPolicy) CheckAmounts(tax, discount decimal.Decimal) error {
	if !p.RejectNegativeAmounts {
		return nil
	}
	if tax.IsNegative() {
		return fmt.Errorf("%w: gst_amount must not be negative", shared.ErrInvalidArgument)
	}
	if discount.IsNegative() {
		return fmt.Errorf("%w: discount must not be negative", shared.ErrInvalidArgument)
	}
	return nil
}

// Check applies the configured totals validation.
func (p TotalsPolicy) Check(subtotal, discount, total decimal.Decimal) error {
	if p.RejectDiscountOverSubtotal && discount.GreaterThan(subtotal) {
		return fmt.Errorf("%w: discount %s exceeds subtotal %s", shared.ErrInvalidArgument, discount, subtotal)
	}
	if p.RejectNegativeTotal && total.IsNegative() {
		return fmt.Errorf("%w: total %s is negative", shared.ErrInvalidArgument, total)
	}
	return nil
}

// UpdatePaymentStatus moves an invoice to a stored status. Cancelled is terminal.
// Stock is never touched.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus, actorID string) (Invoice, error) {
	if !status.Stored() {
		return Invoice{}, fmt.Errorf("%w: payment_status must be pending, paid or cancelled", shared.ErrInvalidArgument)
	}
	if actorID == "" {
		actorID = shared.ActorFromContext(ctx)
	}
	var previous PaymentStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetStatusForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous = current
		if current == status {
			return nil
		}
		if current == StatusCancelled {
			return ErrCancelledTerminal
		}
		return tx.SetPaymentStatus(ctx, id, status)
	})
	if err != nil {
		return Invoice{}, err
	}
	if previous != status {
		if s.audit != nil {
			if err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   "invoice:status",
				Entity:   "invoice",
				EntityID: id,
				Meta:     map[string]any{"from": string(previous), "to": string(status)},
			}); err != nil {
				s.logger.Warn("invoice audit record failed", slog.String("invoice_id", id), slog.Any("error", err))
			}
		}
		s.bump(ctx)
	}
	return s.GetInvoice(ctx, id)
}

// GetInvoice loads one invoice with its display status.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.DisplayStatus = DeriveDisplayStatus(inv, s.now(), s.loc)
	return inv, nil
}

// ListInvoices pages through invoices matching the filter.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) (InvoicePage, error) {
	now := s.now()
	q, page, err := filter.Resolve(now, s.loc)
	if err != nil {
		return InvoicePage{}, err
	}
	load := func(ctx context.Context) (any, error) {
		items, total, err := s.repo.List(ctx, q)
		if err != nil {
			return nil, err
		}
		return InvoicePage{Data: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
	}
	var out InvoicePage
	key, err := s.cache.BuildKey(ctx, "list", filter.Status, filter.Range, filter.Month,
		strconv.Itoa(page.Page), strconv.Itoa(page.Limit), now.In(s.loc).Format("2006-01-02"))
	if err != nil {
		s.logger.Warn("invoice cache key failed", slog.Any("error", err))
		v, err := load(ctx)
		if err != nil {
			return InvoicePage{}, err
		}
		out = v.(InvoicePage)
	} else if err := s.cache.FetchJSON(ctx, key, &out, load); err != nil {
		return InvoicePage{}, err
	}
	for i := range out.Data {
		out.Data[i].DisplayStatus = DeriveDisplayStatus(out.Data[i], now, s.loc)
	}
	return out, nil
}

func (s *Service) bump(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("invoice cache bump failed", slog.Any("error", err))
	}
}
