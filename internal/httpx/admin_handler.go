package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/checkout"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// AdminHandler serves staff-only routes. RequireStaff runs in front of it.
type AdminHandler struct {
	Checkout *checkout.Service
	Stock    *inventory.Service
	Log      *logger.Logger
}

type transitionReq struct {
	Status orders.Status `json:"status" validate:"required"`
}

type refundReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

type adjustStockReq struct {
	Delta  int                   `json:"delta" validate:"ne=0"`
	Reason orders.MovementReason `json:"reason" validate:"required,oneof=purchase adjustment damage loss"`
	Note   string                `json:"note" validate:"max=500"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/transition", h.transition)
	r.Post("/payments/{id}/refund", h.refund)
	r.Post("/products/{id}/stock", h.adjustStock)
	r.Get("/products/low-stock", h.lowStock)
	r.Get("/products/{id}/movements", h.movements)
}

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	o, err := h.Checkout.TransitionOrder(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	res, err := h.Checkout.RequestRefund(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	p := auth.FromContext(r.Context())
	mv, err := h.Stock.Adjust(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason, req.Note, p.Actor())
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func (h *AdminHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 0
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(r.Context(), h.Log, w, &Error{Code: CodeValidation, Message: "threshold must be a positive integer"})
			return
		}
		threshold = n
	}
	report, err := h.Stock.LowStock(r.Context(), threshold)
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	if report.Products == nil {
		report.Products = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) movements(w http.ResponseWriter, r *http.Request) {
	mvs, err := h.Stock.Movements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	if mvs == nil {
		mvs = []orders.StockMovement{}
	}
	writeJSON(w, http.StatusOK, mvs)
}
