package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/billbook/billbook/internal/platform/httpx"
	"github.com/billbook/billbook/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/material-inward", h.handleInward)
	r.Post("/material-outward", h.handleOutward)
	r.Get("/transactions", h.handleTransactions)
}

type adjustmentRequest struct {
	ProductID string `json:"product_id" validate:"required_without=SKU"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=2147483647"`
	Reason    string `json:"reason" validate:"max=255"`
}

type adjustmentResponse struct {
	Message     string `json:"message"`
	StockBefore int    `json:"stock_before"`
	StockAfter  int    `json:"stock_after"`
	Entry       Entry  `json:"entry"`
}

func (h *Handler) handleInward(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.MaterialInward(r.Context(), InwardInput{
		Product:  ProductRef{ID: req.ProductID, SKU: req.SKU},
		Quantity: req.Quantity,
		Reason:   req.Reason,
		ActorID:  actor,
	})
	if err != nil {
		h.logger.Info("material inward rejected", slog.String("product_id", req.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjustmentResponse{
		Message:     "Material inward added successfully",
		StockBefore: entry.StockBefore,
		StockAfter:  entry.StockAfter,
		Entry:       entry,
	})
}

func (h *Handler) handleOutward(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.MaterialOutward(r.Context(), OutwardInput{
		Product:  ProductRef{ID: req.ProductID, SKU: req.SKU},
		Quantity: req.Quantity,
		Reason:   req.Reason,
		ActorID:  actor,
	})
	if err != nil {
		h.logger.Info("material outward rejected", slog.String("product_id", req.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjustmentResponse{
		Message:     "Material outward added successfully",
		StockBefore: entry.StockBefore,
		StockAfter:  entry.StockAfter,
		Entry:       entry,
	})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TransactionFilter{
		ProductID: q.Get("product_id"),
		Direction: Direction(q.Get("type")),
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
	if filter.Days, err = intParam(q, "days"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
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
