// Package store wires together the Store service's components: the
// stock-reservation saga's resource-manager half (C7), the cancellation
// compensator (C8), and commit-phase publication of product.* catalog
// events to the Order service's snapshot cache.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/broker"
	"github.com/timour/order-microservices/internal/platform/config"
	"github.com/timour/order-microservices/internal/platform/discovery"
	"github.com/timour/order-microservices/internal/platform/discovery/consul"
	"github.com/timour/order-microservices/internal/platform/discovery/inmem"
	"github.com/timour/order-microservices/internal/platform/httpx"
	"github.com/timour/order-microservices/internal/platform/idempotency"
	"github.com/timour/order-microservices/internal/platform/logger"
	"github.com/timour/order-microservices/internal/platform/metrics"
	"github.com/timour/order-microservices/internal/platform/schema"
	"github.com/timour/order-microservices/internal/platform/txevents"
	"github.com/timour/order-microservices/internal/store/compensator"
	storeconsumer "github.com/timour/order-microservices/internal/store/consumer"
	storehttp "github.com/timour/order-microservices/internal/store/http"
	"github.com/timour/order-microservices/internal/store/saga"
	"github.com/timour/order-microservices/internal/store/service"
	"github.com/timour/order-microservices/internal/store/stock"
)

const serviceName = "store"

func newRegistry() (discovery.Registry, error) {
	if addr := config.GetEnv("CONSUL_ADDR", ""); addr != "" {
		return consul.NewRegistry(addr)
	}
	return inmem.New(), nil
}

// Run builds every collaborator and blocks until ctx is cancelled. Startup
// itself is logged by the zap bootstrap logger in cmd/store/main.go; Run and
// everything below it uses the shared slog logger like every other service.
func Run(ctx context.Context) error {
	log := logger.New("store")

	db, err := sql.Open("postgres", config.MustGetEnv("STORE_DB_DSN"))
	if err != nil {
		return fmt.Errorf("store: open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)

	// Store publishes in commit-phase mode (txevents), not through a
	// persistent outbox: of the combined DDL it uses only the idempotency
	// table, and the outbox table it creates stays empty.
	if err := schema.Apply(ctx, db, schema.OutboxAndIdempotency+schema.Store); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}

	_, ch, closeAMQP, err := broker.Connect(
		config.GetEnv("RABBITMQ_USER", "guest"),
		config.GetEnv("RABBITMQ_PASS", "guest"),
		config.GetEnv("RABBITMQ_HOST", "localhost"),
		config.GetEnv("RABBITMQ_PORT", "5672"),
	)
	if err != nil {
		return fmt.Errorf("store: connect broker: %w", err)
	}
	defer closeAMQP()

	publishCh, err := ch.Conn().Channel()
	if err != nil {
		return fmt.Errorf("store: open publisher channel: %w", err)
	}

	httpMetrics := metrics.NewHTTPMetrics("store")
	txManager := txevents.NewManager(db, broker.NewAMQPPublisher(publishCh))
	engine := stock.New(db)
	products := service.NewProductRepository(db)
	idem := idempotency.New(db)
	sagaHandler := saga.NewHandler(db, txManager, engine, products, idem, log)
	comp := compensator.New(txManager, engine, products, idem)

	r, err := storeconsumer.Register(ch, sagaHandler, comp, log)
	if err != nil {
		return fmt.Errorf("store: register consumer: %w", err)
	}
	go func() {
		if err := r.Listen(ctx); err != nil {
			log.Error("store: consumer listen stopped", "error", err)
		}
	}()

	verifier := buildVerifier()

	mux := http.NewServeMux()
	storehttp.New(products).Register(mux)
	handler := httpx.CORS(httpx.Metrics(httpMetrics, authn.Middleware(verifier)(mux)))

	httpPort := config.GetEnvInt("HTTP_PORT", 8082)
	reg, err := newRegistry()
	if err != nil {
		return fmt.Errorf("store: build discovery registry: %w", err)
	}
	instanceID := discovery.GenerateInstanceID(serviceName)
	if err := discovery.RunSelfRegistration(ctx, reg, instanceID, serviceName, httpPort); err != nil {
		return fmt.Errorf("store: self-register: %w", err)
	}

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: handler}
	go func() {
		log.Info("store: http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("store: http server failed", "error", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: ":" + config.GetEnv("METRICS_PORT", "9102"), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("store: metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("store: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func buildVerifier() *authn.Verifier {
	client := config.GetEnv("JWT_CLIENT_ID", "store-service")
	if secret := config.GetEnv("JWT_HMAC_SECRET", ""); secret != "" {
		return authn.NewHMACVerifier([]byte(secret), client)
	}
	panic(apperr.New(apperr.Internal, "no JWT verifier configured: set JWT_HMAC_SECRET or wire an RSA key"))
}
