// Package notification wires together the Notification service's
// components: the Postgres store, the WebSocket dispatcher (C10), and the
// Event Router consuming every order.* business event.
package notification

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/timour/order-microservices/internal/notification/consumer"
	"github.com/timour/order-microservices/internal/notification/dispatcher"
	notifhttp "github.com/timour/order-microservices/internal/notification/http"
	"github.com/timour/order-microservices/internal/notification/store"
	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/broker"
	"github.com/timour/order-microservices/internal/platform/config"
	"github.com/timour/order-microservices/internal/platform/discovery"
	"github.com/timour/order-microservices/internal/platform/discovery/consul"
	"github.com/timour/order-microservices/internal/platform/discovery/inmem"
	"github.com/timour/order-microservices/internal/platform/httpx"
	"github.com/timour/order-microservices/internal/platform/logger"
	"github.com/timour/order-microservices/internal/platform/metrics"
	"github.com/timour/order-microservices/internal/platform/schema"
)

const serviceName = "notification"

func newRegistry() (discovery.Registry, error) {
	if addr := config.GetEnv("CONSUL_ADDR", ""); addr != "" {
		return consul.NewRegistry(addr)
	}
	return inmem.New(), nil
}

func Run(ctx context.Context) error {
	log := logger.New("notification")

	db, err := sql.Open("postgres", config.MustGetEnv("NOTIFICATION_DB_DSN"))
	if err != nil {
		return fmt.Errorf("notification: open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)

	if err := schema.Apply(ctx, db, schema.OutboxAndIdempotency+schema.Notification); err != nil {
		return fmt.Errorf("notification: apply schema: %w", err)
	}

	_, ch, closeAMQP, err := broker.Connect(
		config.GetEnv("RABBITMQ_USER", "guest"),
		config.GetEnv("RABBITMQ_PASS", "guest"),
		config.GetEnv("RABBITMQ_HOST", "localhost"),
		config.GetEnv("RABBITMQ_PORT", "5672"),
	)
	if err != nil {
		return fmt.Errorf("notification: connect broker: %w", err)
	}
	defer closeAMQP()

	business := metrics.NewBusinessMetrics("notification")
	httpMetrics := metrics.NewHTTPMetrics("notification")

	notifStore := store.New(db)
	verifier := buildVerifier()
	dispatch := dispatcher.New(verifier, notifStore, business, log)

	r, err := consumer.Register(ch, notifStore, dispatch, business, log)
	if err != nil {
		return fmt.Errorf("notification: register consumer: %w", err)
	}
	go func() {
		if err := r.Listen(ctx); err != nil {
			log.Error("notification: consumer listen stopped", "error", err)
		}
	}()

	// /ws authenticates out-of-band via its own CONNECT frame (spec §4.10) —
	// a browser's WebSocket handshake can't carry a custom Authorization
	// header, so it is deliberately not behind authn.Middleware.
	apiMux := http.NewServeMux()
	notifhttp.New(notifStore).Register(apiMux)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/notifications", authn.Middleware(verifier)(apiMux))
	mux.Handle("/api/v1/notifications/", authn.Middleware(verifier)(apiMux))
	mux.HandleFunc("GET /ws", dispatch.HandleWS)
	handler := httpx.CORS(httpx.Metrics(httpMetrics, mux))

	httpPort := config.GetEnvInt("HTTP_PORT", 8084)
	reg, err := newRegistry()
	if err != nil {
		return fmt.Errorf("notification: build discovery registry: %w", err)
	}
	instanceID := discovery.GenerateInstanceID(serviceName)
	if err := discovery.RunSelfRegistration(ctx, reg, instanceID, serviceName, httpPort); err != nil {
		return fmt.Errorf("notification: self-register: %w", err)
	}

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: handler}
	go func() {
		log.Info("notification: http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("notification: http server failed", "error", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: ":" + config.GetEnv("METRICS_PORT", "9104"), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("notification: metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("notification: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func buildVerifier() *authn.Verifier {
	client := config.GetEnv("JWT_CLIENT_ID", "notification-service")
	if secret := config.GetEnv("JWT_HMAC_SECRET", ""); secret != "" {
		return authn.NewHMACVerifier([]byte(secret), client)
	}
	panic(apperr.New(apperr.Internal, "no JWT verifier configured: set JWT_HMAC_SECRET or wire an RSA key"))
}
