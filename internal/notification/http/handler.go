// Package http exposes the Notification REST surface: unread listing, paged
// history, and mark-as-read. Live delivery itself goes over the WebSocket
// dispatcher, mounted separately at /ws.
package http

import (
	"net/http"
	"strconv"

	"github.com/timour/order-microservices/internal/notification/store"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/httpx"
)

type Handler struct {
	store *store.Store
}

func New(s *store.Store) *Handler {
	return &Handler{store: s}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications/unread", h.unread)
	mux.HandleFunc("GET /api/v1/notifications", h.history)
	mux.HandleFunc("PATCH /api/v1/notifications/{id}/read", h.markRead)
}

func (h *Handler) unread(w http.ResponseWriter, r *http.Request) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	list, err := h.store.ListUnread(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.store.ListHistory(r.Context(), p.UserID, limit, offset)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, errUnauthenticated)
		return
	}
	if err := h.store.MarkRead(r.Context(), r.PathValue("id"), p.UserID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = 20, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 || n > 100 {
			return 0, 0, errBadPagination
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
