// Package http implements the Order service's REST surface: POST/PATCH
// orders and the read endpoints spec §6 lists.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/timour/order-microservices/internal/order/saga"
	"github.com/timour/order-microservices/internal/order/service"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/httpx"
)

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts every Order route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/orders", h.create)
	mux.HandleFunc("GET /api/v1/orders/me", h.listMine)
	mux.HandleFunc("GET /api/v1/orders/{id}", h.get)
	mux.HandleFunc("PATCH /api/v1/orders/{id}/accept", h.accept)
	mux.HandleFunc("PATCH /api/v1/orders/{id}/pickup", h.pickup)
	mux.HandleFunc("PATCH /api/v1/orders/{id}/deliver", h.deliver)
	mux.HandleFunc("PATCH /api/v1/orders/{id}/cancel", h.cancel)
}

type createOrderRequest struct {
	StoreID         string             `json:"storeId"`
	ShippingAddress string             `json:"shippingAddress"`
	Items           []saga.ItemRequest `json:"items"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, errMalformedBody)
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), principal.UserID, service.CreateOrderInput{
		StoreID:         req.StoreID,
		ShippingAddress: req.ShippingAddress,
		Items:           req.Items,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	orders, err := h.svc.ListMine(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.withPrincipal(w, r, func(p authn.Principal, id string) error {
		return h.svc.AcceptOrder(r.Context(), p, id)
	})
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	h.withPrincipal(w, r, func(p authn.Principal, id string) error {
		return h.svc.PickupOrder(r.Context(), p, id)
	})
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	h.withPrincipal(w, r, func(p authn.Principal, id string) error {
		return h.svc.DeliverOrder(r.Context(), p, id)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.withPrincipal(w, r, func(p authn.Principal, id string) error {
		return h.svc.CancelOrder(r.Context(), p, id)
	})
}

func (h *Handler) withPrincipal(w http.ResponseWriter, r *http.Request, action func(authn.Principal, string) error) {
	principal, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	if err := action(principal, r.PathValue("id")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit = 20
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return 0, 0, errBadPagination
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, errBadPagination
		}
		offset = n
	}
	return limit, offset, nil
}
