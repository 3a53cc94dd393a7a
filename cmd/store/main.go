package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/timour/order-microservices/internal/platform/tracing"
	"github.com/timour/order-microservices/internal/store"
)

// Store's bootstrap keeps zap for process-lifecycle logging, a texture
// carried over from the teacher's stock/main.go — everything past startup
// uses the shared slog logger like the other three services.
func main() {
	_ = godotenv.Load()

	bootLogger, _ := zap.NewProduction()
	defer bootLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "store", otlpEndpoint())
	if err != nil {
		bootLogger.Fatal("store: tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	bootLogger.Info("store: starting")
	if err := store.Run(ctx); err != nil {
		bootLogger.Fatal("store: fatal error", zap.Error(err))
	}
}

func otlpEndpoint() string {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return "localhost:4317"
}
