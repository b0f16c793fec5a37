package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/online-store/internal/inventory"
	"github.com/vasiliy-maslov/online-store/internal/middleware"
)

type InventoryHandler struct {
	ledger *inventory.Ledger
}

func NewInventoryHandler(ledger *inventory.Ledger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

// Adjust applies a manual stock correction and returns the ledger entry
// that recorded it.
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFrom(r.Context())
	if ident.UserID == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}

	var input struct {
		ProductID uuid.UUID `json:"product_id"`
		Delta     int       `json:"delta"`
		Reason    string    `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if input.Delta == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "delta must be non-zero"})
		return
	}

	entry, err := h.ledger.Adjust(r.Context(), input.ProductID, input.Delta, input.Reason, *ident.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *InventoryHandler) History(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.FromString(chi.URLParam(r, "productID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid product id"})
		return
	}

	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}

	entries, err := h.ledger.History(r.Context(), productID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
