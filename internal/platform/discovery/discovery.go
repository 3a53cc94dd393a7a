// Package discovery abstracts service registration/lookup behind one
// interface, with a Consul-backed implementation for deployed environments
// and an in-memory implementation for local dev and tests.
package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Registry registers this process's own instance and discovers healthy
// instances of other services. Every service self-registers at boot and
// renews a TTL health check on an interval; nothing in the saga or event
// paths calls Discover today, since those are all async over the broker —
// registration exists so an operator (or a future admin surface) can see
// which instances of each service are alive.
type Registry interface {
	Register(ctx context.Context, instanceID, serviceName string, port int) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	Discover(ctx context.Context, serviceName string) ([]string, error)
	HealthCheck(ctx context.Context, instanceID, serviceName string) error
}

// GenerateInstanceID builds a registration id unique enough for local dev
// and single-node test environments.
func GenerateInstanceID(serviceName string) string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return fmt.Sprintf("%s-%d", serviceName, r.Int63())
}

// RunSelfRegistration registers instanceID/serviceName with reg, renews its
// TTL health check every 3s, and deregisters when ctx is cancelled. Each
// service calls this once from Run with its own Registry and blocks the
// returned goroutine's lifetime on ctx, not on the caller.
func RunSelfRegistration(ctx context.Context, reg Registry, instanceID, serviceName string, port int) error {
	if err := reg.Register(ctx, instanceID, serviceName, port); err != nil {
		return fmt.Errorf("discovery: register %s: %w", serviceName, err)
	}
	go func() {
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = reg.Deregister(context.Background(), instanceID, serviceName)
				return
			case <-ticker.C:
				// Best-effort renewal: a missed tick just lets the TTL lapse
				// and Consul mark the instance unhealthy until the next one.
				_ = reg.HealthCheck(ctx, instanceID, serviceName)
			}
		}
	}()
	return nil
}
