// Package order wires together the Order service's components at process
// startup: explicit construction and composition, replacing the
// dependency-injection/listener-framework pattern the teacher's source used
// (Design Notes, spec §9).
package order

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	orderconsumer "github.com/timour/order-microservices/internal/order/consumer"
	orderhttp "github.com/timour/order-microservices/internal/order/http"
	"github.com/timour/order-microservices/internal/order/service"
	"github.com/timour/order-microservices/internal/order/snapshot"
	orderstore "github.com/timour/order-microservices/internal/order/store"
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
	"github.com/timour/order-microservices/internal/platform/outbox"
	"github.com/timour/order-microservices/internal/platform/schema"
)

const serviceName = "order"

func newRegistry() (discovery.Registry, error) {
	if addr := config.GetEnv("CONSUL_ADDR", ""); addr != "" {
		return consul.NewRegistry(addr)
	}
	return inmem.New(), nil
}

// Run builds every collaborator and blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	log := logger.New("order")

	db, err := sql.Open("postgres", config.MustGetEnv("ORDER_DB_DSN"))
	if err != nil {
		return fmt.Errorf("order: open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)

	if err := schema.Apply(ctx, db, schema.OutboxAndIdempotency+schema.Order); err != nil {
		return fmt.Errorf("order: apply schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: config.GetEnv("REDIS_ADDR", "localhost:6379")})
	defer redisClient.Close()

	_, ch, closeAMQP, err := broker.Connect(
		config.GetEnv("RABBITMQ_USER", "guest"),
		config.GetEnv("RABBITMQ_PASS", "guest"),
		config.GetEnv("RABBITMQ_HOST", "localhost"),
		config.GetEnv("RABBITMQ_PORT", "5672"),
	)
	if err != nil {
		return fmt.Errorf("order: connect broker: %w", err)
	}
	defer closeAMQP()

	publishCh, err := ch.Conn().Channel()
	if err != nil {
		return fmt.Errorf("order: open publisher channel: %w", err)
	}

	business := metrics.NewBusinessMetrics("order")
	httpMetrics := metrics.NewHTTPMetrics("order")

	snapshots := snapshot.New(db, redisClient, 5*time.Minute)
	outboxStore := outbox.New(db)
	orders := orderstore.New(db)
	idem := idempotency.New(db)
	svc := service.New(db, orders, snapshots, outboxStore, log, business)

	publisher := outbox.NewPublisher(outboxStore, publishCh, log,
		outbox.WithOnDrained(func() { business.OutboxDrained.Inc() }),
		outbox.WithOnDrainError(func() { business.OutboxDrainErrors.Inc() }),
	)
	go publisher.Run(ctx)

	r, err := orderconsumer.Register(ch, svc, snapshots, idem, log)
	if err != nil {
		return fmt.Errorf("order: register consumer: %w", err)
	}
	go func() {
		if err := r.Listen(ctx); err != nil {
			log.Error("order: consumer listen stopped", "error", err)
		}
	}()

	verifier := buildVerifier()

	mux := http.NewServeMux()
	orderhttp.New(svc).Register(mux)
	handler := httpx.CORS(httpx.Metrics(httpMetrics, authn.Middleware(verifier)(mux)))

	httpPort := config.GetEnvInt("HTTP_PORT", 8081)
	reg, err := newRegistry()
	if err != nil {
		return fmt.Errorf("order: build discovery registry: %w", err)
	}
	instanceID := discovery.GenerateInstanceID(serviceName)
	if err := discovery.RunSelfRegistration(ctx, reg, instanceID, serviceName, httpPort); err != nil {
		return fmt.Errorf("order: self-register: %w", err)
	}

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: handler}
	go func() {
		log.Info("order: http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("order: http server failed", "error", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: ":" + config.GetEnv("METRICS_PORT", "9101"), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("order: metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("order: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func buildVerifier() *authn.Verifier {
	client := config.GetEnv("JWT_CLIENT_ID", "order-service")
	if secret := config.GetEnv("JWT_HMAC_SECRET", ""); secret != "" {
		return authn.NewHMACVerifier([]byte(secret), client)
	}
	panic(apperr.New(apperr.Internal, "no JWT verifier configured: set JWT_HMAC_SECRET or wire an RSA key"))
}
