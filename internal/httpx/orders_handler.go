package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/checkout"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

const maxIdempotencyKeyLen = 255

type OrdersHandler struct {
	Checkout *checkout.Service
	Stock    *inventory.Service
	Log      *logger.Logger
}

type startPaymentReq struct {
	PaymentMethod orders.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=card paypal transfer"`
}

type confirmPaymentReq struct {
	TransactionID string `json:"payment_intent_id" validate:"required"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/payment", h.startPayment)
	r.Post("/orders/{id}/payment/confirm", h.confirmPayment)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Stock.Products(r.Context())
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.CreateOrderInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		writeError(r.Context(), h.Log, w, &Error{Code: CodeValidation, Message: "Idempotency-Key is too long"})
		return
	}

	o, replayed, err := h.Checkout.CreateOrder(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, o)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(r.Context(), h.Log, w, &Error{Code: CodeValidation, Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	status := orders.Status(r.URL.Query().Get("status"))
	list, err := h.Checkout.ListOrders(r.Context(), auth.FromContext(r.Context()), status, limit)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	v, err := h.Checkout.OrderDetails(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Checkout.OrderStatus(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Checkout.CancelOrder(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) startPayment(w http.ResponseWriter, r *http.Request) {
	var req startPaymentReq
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(r.Context(), h.Log, w, err)
			return
		}
	}
	sess, err := h.Checkout.StartPayment(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.PaymentMethod)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	res, err := h.Checkout.ConfirmPayment(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.TransactionID)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
