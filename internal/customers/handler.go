package customers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/billbook/billbook/internal/platform/httpx"
	"github.com/billbook/billbook/internal/shared"
)

// Handler serves customer lookups.
type Handler struct {
	store Store
}

// NewHandler constructs the handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// MountRoutes registers customer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/search", h.handleSearch)
}

// handleSearch returns the customer registered with ?phone=, or null when none matches.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		httpx.RespondError(w, fmt.Errorf("%w: phone is required", shared.ErrInvalidArgument))
		return
	}
	c, err := h.store.GetByPhone(r.Context(), phone)
	if errors.Is(err, shared.ErrNotFound) {
		httpx.JSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}
