// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/billbook/billbook/internal/shared"
)

// RetryAfterSeconds is advertised on contention responses.
const RetryAfterSeconds = "1"

// ExtensionProvider is implemented by errors that carry RFC7807 extension members.
type ExtensionProvider interface {
	ProblemExtensions() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ext map[string]any
	var provider ExtensionProvider
	if errors.As(err, &provider) {
		ext = provider.ProblemExtensions()
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		ProblemWith(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, shared.ErrInvalidArgument):
		ProblemWith(w, http.StatusBadRequest, "Invalid Argument", err.Error(), ext)
	case errors.Is(err, shared.ErrInsufficientStock):
		ProblemWith(w, http.StatusConflict, "Insufficient Stock", err.Error(), ext)
	case errors.Is(err, shared.ErrContention):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		ProblemWith(w, http.StatusServiceUnavailable, "Contention", err.Error(), ext)
	case errors.Is(err, shared.ErrConflict):
		ProblemWith(w, http.StatusConflict, "Conflict", err.Error(), ext)
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		slog.Default().Error("unhandled request error", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
