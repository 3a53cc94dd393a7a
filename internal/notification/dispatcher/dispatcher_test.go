package dispatcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timour/order-microservices/internal/notification/domain"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/metrics"
)

type fakePendingLoader struct {
	mu        sync.Mutex
	delivered []string
}

func (f *fakePendingLoader) ListPending(ctx context.Context, userID string) ([]domain.Notification, error) {
	return nil, nil
}

func (f *fakePendingLoader) MarkDelivered(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, id)
	return nil
}

const testSecret = "test-secret-do-not-use-in-prod"

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	verifier := authn.NewHMACVerifier([]byte(testSecret), "notification-service")
	// Namespace the metrics per test: promauto registers into the default
	// registry, and a second identical namespace would panic on collision.
	business := metrics.NewBusinessMetrics("notification_test_" + strings.ReplaceAll(t.Name(), "/", "_"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(verifier, &fakePendingLoader{}, business, logger)
}

func dialAndConnect(t *testing.T, wsURL, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Frame{Command: "CONNECT", Token: tokenFor(t, userID)}))

	var reply Frame
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "CONNECTED", reply.Command)
	return conn
}

func TestPush_DeliversOnlyToTargetUsersSession(t *testing.T) {
	d := newTestDispatcher(t)
	ts := httptest.NewServer(http.HandlerFunc(d.HandleWS))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	connA := dialAndConnect(t, wsURL, "user-a")
	defer connA.Close()
	connB := dialAndConnect(t, wsURL, "user-b")
	defer connB.Close()

	// give HandleWS's registration goroutine a moment to record both sessions
	time.Sleep(50 * time.Millisecond)

	notifForA := domain.Notification{ID: "n1", UserID: "user-a", Message: "your order shipped"}
	delivered := d.Push(notifForA)
	assert.True(t, delivered)

	_ = connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Frame
	require.NoError(t, connA.ReadJSON(&got))
	assert.Equal(t, "MESSAGE", got.Command)
	assert.Contains(t, string(got.Body), "your order shipped")

	// user-b must never observe user-a's notification: read with a short
	// deadline and require a timeout, not a frame.
	_ = connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray Frame
	err := connB.ReadJSON(&stray)
	assert.Error(t, err, "user-b's socket must not receive user-a's notification")
}

func TestPush_ReturnsFalseWhenUserHasNoSession(t *testing.T) {
	d := newTestDispatcher(t)
	delivered := d.Push(domain.Notification{ID: "n2", UserID: "nobody-connected"})
	assert.False(t, delivered)
}
