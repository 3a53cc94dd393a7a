package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/timour/order-microservices/internal/courier"
	"github.com/timour/order-microservices/internal/platform/tracing"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "courier", otlpEndpoint())
	if err != nil {
		fmt.Fprintln(os.Stderr, "courier: tracing init failed:", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	if err := courier.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}

func otlpEndpoint() string {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return "localhost:4317"
}
