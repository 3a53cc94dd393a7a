// Package http exposes the Courier self-service REST surface (spec §4.11):
// a courier reads their own row and updates their own status/location, and
// nothing else — there is no admin surface for managing other couriers.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/timour/order-microservices/internal/courier/domain"
	"github.com/timour/order-microservices/internal/courier/service"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/httpx"
)

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/couriers/me", h.getMine)
	mux.HandleFunc("PATCH /api/v1/couriers/me/status", h.setStatus)
	mux.HandleFunc("PATCH /api/v1/couriers/me/location", h.setLocation)
}

func (h *Handler) getMine(w http.ResponseWriter, r *http.Request) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	c, err := h.svc.GetMine(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	var body struct {
		Status domain.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, errMalformedBody)
		return
	}
	if err := h.svc.SetStatus(r.Context(), p.UserID, body.Status); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setLocation(w http.ResponseWriter, r *http.Request) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	var body struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, errMalformedBody)
		return
	}
	if err := h.svc.SetLocation(r.Context(), p.UserID, body.Lat, body.Lng); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
