package invoicing

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/billbook/billbook/internal/customers"
	"github.com/billbook/billbook/internal/platform/httpx"
	"github.com/billbook/billbook/internal/shared"
)

// IdempotencyHeader carries the client's replay-protection key on create.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for invoices.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs invoice handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}/status", h.handleStatus)
	})
}

type lineRequest struct {
	ProductID string `json:"product_id" validate:"required_without=SKU"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=2147483647"`
}

type createRequest struct {
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name" validate:"max=255"`
	CustomerPhone   string          `json:"customer_phone" validate:"max=32"`
	CustomerEmail   string          `json:"customer_email" validate:"omitempty,email"`
	CustomerAddress string          `json:"customer_address"`
	Items           []lineRequest   `json:"items" validate:"required,min=1,dive"`
	GSTAmount       decimal.Decimal `json:"gst_amount"`
	Discount        decimal.Decimal `json:"discount"`
	PaymentStatus   string          `json:"payment_status" validate:"omitempty,oneof=pending paid"`
}

func (req createRequest) input(actor, key string) CreateInvoiceInput {
	items := make([]ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = ItemRequest{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity}
	}
	return CreateInvoiceInput{
		Customer: customers.ResolveInput{
			ID:      req.CustomerID,
			Phone:   req.CustomerPhone,
			Name:    req.CustomerName,
			Email:   req.CustomerEmail,
			Address: req.CustomerAddress,
		},
		Items:          items,
		Tax:            req.GSTAmount,
		Discount:       req.Discount,
		PaymentStatus:  PaymentStatus(req.PaymentStatus),
		ActorID:        actor,
		IdempotencyKey: key,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	inv, err := h.service.CreateInvoice(r.Context(), req.input(actor, key))
	if err != nil {
		h.logger.Info("invoice rejected", slog.String("actor", actor), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := InvoiceFilter{
		Status: q.Get("status"),
		Range:  q.Get("range"),
		Month:  q.Get("month"),
	}
	var err error
	if filter.Page, err = intParam(q, "page"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = intParam(q, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type statusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required"`
}

// handleStatus accepts the new status as a payment_status query parameter or JSON body.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	req := statusRequest{PaymentStatus: r.URL.Query().Get("payment_status")}
	if req.PaymentStatus == "" {
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	id := chi.URLParam(r, "id")
	inv, err := h.service.UpdatePaymentStatus(r.Context(), id, PaymentStatus(req.PaymentStatus), actor)
	if err != nil {
		h.logger.Info("invoice status change rejected", slog.String("invoice_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message": "Invoice status updated successfully",
		"invoice": inv,
	})
}

func intParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", shared.ErrInvalidArgument, name)
	}
	return v, nil
}
