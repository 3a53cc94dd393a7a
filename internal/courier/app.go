// Package courier wires together the Courier service's components.
package courier

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/timour/order-microservices/internal/courier/consumer"
	courierhttp "github.com/timour/order-microservices/internal/courier/http"
	"github.com/timour/order-microservices/internal/courier/service"
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

const serviceName = "courier"

func newRegistry() (discovery.Registry, error) {
	if addr := config.GetEnv("CONSUL_ADDR", ""); addr != "" {
		return consul.NewRegistry(addr)
	}
	return inmem.New(), nil
}

func Run(ctx context.Context) error {
	log := logger.New("courier")

	db, err := sql.Open("postgres", config.MustGetEnv("COURIER_DB_DSN"))
	if err != nil {
		return fmt.Errorf("courier: open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)

	if err := schema.Apply(ctx, db, schema.OutboxAndIdempotency+schema.Courier); err != nil {
		return fmt.Errorf("courier: apply schema: %w", err)
	}

	_, ch, closeAMQP, err := broker.Connect(
		config.GetEnv("RABBITMQ_USER", "guest"),
		config.GetEnv("RABBITMQ_PASS", "guest"),
		config.GetEnv("RABBITMQ_HOST", "localhost"),
		config.GetEnv("RABBITMQ_PORT", "5672"),
	)
	if err != nil {
		return fmt.Errorf("courier: connect broker: %w", err)
	}
	defer closeAMQP()

	publishCh, err := ch.Conn().Channel()
	if err != nil {
		return fmt.Errorf("courier: open publisher channel: %w", err)
	}

	httpMetrics := metrics.NewHTTPMetrics("courier")
	store := service.NewStore(db)
	svc := service.New(store, publishCh, log)

	r, err := consumer.Register(ch, svc, log)
	if err != nil {
		return fmt.Errorf("courier: register consumer: %w", err)
	}
	go func() {
		if err := r.Listen(ctx); err != nil {
			log.Error("courier: consumer listen stopped", "error", err)
		}
	}()

	verifier := buildVerifier()

	mux := http.NewServeMux()
	courierhttp.New(svc).Register(mux)
	handler := httpx.CORS(httpx.Metrics(httpMetrics, authn.Middleware(verifier)(mux)))

	httpPort := config.GetEnvInt("HTTP_PORT", 8083)
	reg, err := newRegistry()
	if err != nil {
		return fmt.Errorf("courier: build discovery registry: %w", err)
	}
	instanceID := discovery.GenerateInstanceID(serviceName)
	if err := discovery.RunSelfRegistration(ctx, reg, instanceID, serviceName, httpPort); err != nil {
		return fmt.Errorf("courier: self-register: %w", err)
	}

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: handler}
	go func() {
		log.Info("courier: http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("courier: http server failed", "error", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: ":" + config.GetEnv("METRICS_PORT", "9103"), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("courier: metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("courier: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func buildVerifier() *authn.Verifier {
	client := config.GetEnv("JWT_CLIENT_ID", "courier-service")
	if secret := config.GetEnv("JWT_HMAC_SECRET", ""); secret != "" {
		return authn.NewHMACVerifier([]byte(secret), client)
	}
	panic(apperr.New(apperr.Internal, "no JWT verifier configured: set JWT_HMAC_SECRET or wire an RSA key"))
}
