package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/online-store/internal/cart"
	"github.com/vasiliy-maslov/online-store/internal/middleware"
)

type CartHandler struct {
	svc cart.Service
}

func NewCartHandler(svc cart.Service) *CartHandler {
	return &CartHandler{svc: svc}
}

func ownerFrom(r *http.Request) cart.Owner {
	ident := middleware.IdentityFrom(r.Context())
	return cart.Owner{UserID: ident.UserID, SessionID: ident.SessionID}
}

// Get returns the caller's active cart, creating one on first access.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetOrCreate(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var input cart.AddItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	item, err := h.svc.AddItem(r.Context(), ownerFrom(r), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.FromString(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid item id"})
		return
	}

	var input struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateItemQuantity(r.Context(), ownerFrom(r), itemID, input.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.FromString(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid item id"})
		return
	}

	if err := h.svc.RemoveItem(r.Context(), ownerFrom(r), itemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context(), ownerFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate runs the checkout pre-check and reports the issues found.
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetOrCreate(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	issues, err := h.svc.ValidateForCheckout(r.Context(), c.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  len(issues) == 0,
		"issues": issues,
	})
}

func (h *CartHandler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "promo code is required"})
		return
	}

	if err := h.svc.ApplyPromoCode(r.Context(), ownerFrom(r), input.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Merge folds the caller's anonymous session cart into their user cart.
// Requires both identities: the user from auth and the session id in the
// body.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFrom(r.Context())
	if ident.UserID == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}

	var input struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}

	c, err := h.svc.MergeSessionCart(r.Context(), *ident.UserID, input.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Cleanup demotes stale active carts. Meant to be hit by a scheduler.
func (h *CartHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}
