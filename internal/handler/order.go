package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/online-store/internal/middleware"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

func actorFrom(r *http.Request) order.Actor {
	ident := middleware.IdentityFrom(r.Context())
	return order.Actor{ID: ident.UserID, IsAdmin: ident.IsAdmin}
}

type listResponse struct {
	Orders []order.Order `json:"orders"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func listFilterFrom(r *http.Request) order.ListFilter {
	q := r.URL.Query()

	f := order.ListFilter{Limit: 20}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 100 {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		f.Offset = v
	}
	if s := q.Get("status"); s != "" {
		st := order.Status(s)
		f.Status = &st
	}
	if s := q.Get("payment_status"); s != "" {
		ps := order.PaymentStatus(s)
		f.PaymentStatus = &ps
	}
	return f
}

// Create converts the authenticated user's cart into an order.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFrom(r.Context())
	if ident.UserID == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}

	var input order.CreateFromCartInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	o, err := h.svc.CreateFromCart(r.Context(), *ident.UserID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// CreateGuest places an order without an account. The response includes
// the guest token exactly once; it is never readable again.
func (h *OrderHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var input order.GuestOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	o, err := h.svc.CreateGuestOrder(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	token := ""
	if o.GuestToken != nil {
		token = *o.GuestToken
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order":       o,
		"guest_token": token,
	})
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}

	o, err := h.svc.GetByID(r.Context(), orderID, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// List returns the authenticated user's own orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFrom(r.Context())
	if ident.UserID == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}

	f := listFilterFrom(r)
	orders, total, err := h.svc.ListByUser(r.Context(), *ident.UserID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Orders: orders, Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}

	var input struct {
		Reason *string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	o, err := h.svc.Cancel(r.Context(), orderID, actorFrom(r), input.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}

	history, err := h.svc.History(r.Context(), orderID, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetGuest looks up a guest order by number. The token travels in the
// X-Guest-Token header, never in the URL.
func (h *OrderHandler) GetGuest(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")
	token := r.Header.Get("X-Guest-Token")

	o, err := h.svc.GetGuestOrder(r.Context(), number, token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) CancelGuest(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")
	token := r.Header.Get("X-Guest-Token")

	var input struct {
		Reason *string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	o, err := h.svc.CancelGuestOrder(r.Context(), number, token, input.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// AdminList returns orders across all users, filterable by status.
func (h *OrderHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	f := listFilterFrom(r)
	orders, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Orders: orders, Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}

	var input struct {
		Status string  `json:"status"`
		Notes  *string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Status == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status is required"})
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), orderID, order.Status(input.Status), actorFrom(r), input.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}

	var input struct {
		PaymentStatus string  `json:"payment_status"`
		TransactionID *string `json:"transaction_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.PaymentStatus == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment_status is required"})
		return
	}

	o, err := h.svc.UpdatePaymentStatus(r.Context(), orderID, order.PaymentStatus(input.PaymentStatus), input.TransactionID, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) AddTracking(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}

	var input struct {
		TrackingNumber    string     `json:"tracking_number"`
		Carrier           string     `json:"carrier"`
		EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	o, err := h.svc.AddTracking(r.Context(), orderID, input.TrackingNumber, input.Carrier, input.EstimatedDelivery, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
