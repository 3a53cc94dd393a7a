// Package dispatcher implements the Notification Dispatcher (C10): a
// per-user WebSocket session registry and a small STOMP-like frame protocol
// (CONNECT over /ws, SUBSCRIBE to /user/queue/notifications, SEND to
// /app/notifications to request a replay of missed notifications).
//
// Cross-user isolation is structural: a session is only ever looked up by
// the userID its own handshake authenticated, and Push only ever writes to
// sessions registered under the target userID — there is no destination or
// session parameter a caller can use to reach another user's socket.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/timour/order-microservices/internal/notification/domain"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/metrics"
)

const (
	destQueueNotifications = "/user/queue/notifications"
	destAppNotifications   = "/app/notifications"
)

// Frame is the bespoke STOMP-like envelope exchanged over the socket.
type Frame struct {
	Command     string          `json:"command"`
	Destination string          `json:"destination,omitempty"`
	Token       string          `json:"token,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// PendingLoader fetches undelivered notifications for a replay request.
type PendingLoader interface {
	ListPending(ctx context.Context, userID string) ([]domain.Notification, error)
	MarkDelivered(ctx context.Context, id string) error
}

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards writes; gorilla connections are not write-concurrent-safe
}

func (s *session) send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

type Dispatcher struct {
	mu       sync.RWMutex
	sessions map[string][]*session // userID -> live sockets, a user may have several devices
	upgrader websocket.Upgrader
	verifier *authn.Verifier
	pending  PendingLoader
	business *metrics.BusinessMetrics
	logger   *slog.Logger
}

func New(verifier *authn.Verifier, pending PendingLoader, business *metrics.BusinessMetrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: make(map[string][]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize: 4096, WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		verifier: verifier,
		pending:  pending,
		business: business,
		logger:   logger,
	}
}

// HandleWS upgrades the connection, waits for a CONNECT frame carrying a
// bearer token, registers the session under the authenticated userID, and
// then serves SUBSCRIBE/SEND frames until the socket closes. A SUBSCRIBE
// frame must carry a valid token for the same user; otherwise the server
// answers with an ERROR frame and closes the socket.
func (d *Dispatcher) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("dispatcher: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var connectFrame Frame
	if err := conn.ReadJSON(&connectFrame); err != nil || connectFrame.Command != "CONNECT" {
		_ = conn.WriteJSON(Frame{Command: "ERROR", Body: jsonString("expected CONNECT frame")})
		return
	}
	principal, err := d.verifier.VerifyHandshakeToken(connectFrame.Token)
	if err != nil {
		_ = conn.WriteJSON(Frame{Command: "ERROR", Body: jsonString("invalid token")})
		return
	}

	sess := &session{conn: conn}
	d.register(principal.UserID, sess)
	defer d.unregister(principal.UserID, sess)

	_ = conn.WriteJSON(Frame{Command: "CONNECTED"})

	ctx := r.Context()
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Command {
		case "SUBSCRIBE":
			if f.Destination != destQueueNotifications {
				continue
			}
			if p, err := d.verifier.VerifyHandshakeToken(f.Token); err != nil || p.UserID != principal.UserID {
				_ = sess.send(Frame{Command: "ERROR", Body: jsonString("invalid token")})
				return
			}
			d.replayPending(ctx, principal.UserID, sess)
		case "SEND":
			if f.Destination != destAppNotifications {
				continue
			}
			d.replayPending(ctx, principal.UserID, sess)
		}
	}
}

func (d *Dispatcher) register(userID string, s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[userID] = append(d.sessions[userID], s)
}

func (d *Dispatcher) unregister(userID string, s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sessions[userID]
	for i, existing := range list {
		if existing == s {
			d.sessions[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(d.sessions[userID]) == 0 {
		delete(d.sessions, userID)
	}
}

func (d *Dispatcher) replayPending(ctx context.Context, userID string, s *session) {
	pending, err := d.pending.ListPending(ctx, userID)
	if err != nil {
		d.logger.Error("dispatcher: replay list pending failed", "user_id", userID, "error", err)
		return
	}
	for _, n := range pending {
		if err := d.deliverTo(s, n); err != nil {
			d.logger.Warn("dispatcher: replay push failed", "notification_id", n.ID, "error", err)
			continue
		}
		if err := d.pending.MarkDelivered(ctx, n.ID); err != nil {
			d.logger.Error("dispatcher: mark delivered failed", "notification_id", n.ID, "error", err)
			continue
		}
		d.business.NotificationsDelivered.Inc()
	}
}

// Push attempts live delivery to every session registered for n.UserID,
// reporting whether at least one session received it. The caller (the
// consumer handler) marks the row delivered only on a true result, leaving
// it pending for the next reconnect-triggered replay otherwise.
func (d *Dispatcher) Push(n domain.Notification) bool {
	d.mu.RLock()
	sessions := append([]*session(nil), d.sessions[n.UserID]...)
	d.mu.RUnlock()

	delivered := false
	for _, s := range sessions {
		if err := d.deliverTo(s, n); err == nil {
			delivered = true
		}
	}
	return delivered
}

func (d *Dispatcher) deliverTo(s *session, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal notification %s: %w", n.ID, err)
	}
	return s.send(Frame{Command: "MESSAGE", Destination: destQueueNotifications, Body: body})
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
