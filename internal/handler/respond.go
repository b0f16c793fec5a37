package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/online-store/internal/cart"
	"github.com/vasiliy-maslov/online-store/internal/catalog"
	"github.com/vasiliy-maslov/online-store/internal/inventory"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("handler: failed to encode response")
	}
}

// writeError maps the core error taxonomy onto HTTP statuses. Anything
// unrecognized is an internal failure and deliberately opaque to the
// client.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *order.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "checkout validation failed",
			Issues: validationErr.Issues,
		})
		return
	}

	switch {
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrVariationNotFound),
		errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrCartItemNotFound),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})

	case errors.Is(err, order.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})

	case errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrNotCancellable):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})

	case errors.Is(err, cart.ErrLimitExceeded),
		errors.Is(err, cart.ErrInvalidOwner),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrWindowExpired),
		errors.Is(err, order.ErrInvalidPaymentStatus):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

	default:
		log.Error().Err(err).Msg("handler: internal error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
