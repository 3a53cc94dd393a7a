// Package http exposes the Store service's minimal REST surface. Catalog
// CRUD (creating/editing products, categories, stores) is an external
// collaborator's concern per spec §1 — this package only exposes the
// read-only product lookup the rest of the system needs to inspect stock
// state directly, everything else flows through the async saga and events.
package http

import (
	"net/http"

	"github.com/timour/order-microservices/internal/platform/httpx"
	"github.com/timour/order-microservices/internal/store/service"
)

type Handler struct {
	products *service.ProductRepository
}

func New(products *service.ProductRepository) *Handler {
	return &Handler{products: products}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/products/{id}", h.get)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}
