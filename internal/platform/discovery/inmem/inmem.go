// Package inmem implements discovery.Registry entirely in memory, for local
// development and tests where no Consul agent is available.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timour/order-microservices/internal/platform/discovery"
)

const staleAfter = 5 * time.Second

type instance struct {
	addr       string
	lastActive time.Time
}

// Registry is a mutex-guarded map from serviceName to instanceID to
// instance, with TTL-style staleness filtering standing in for Consul's
// health-check deregistration.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]map[string]*instance
}

var _ discovery.Registry = (*Registry)(nil)

func New() *Registry {
	return &Registry{instances: make(map[string]map[string]*instance)}
}

func (r *Registry) Register(ctx context.Context, instanceID, serviceName string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instances[serviceName] == nil {
		r.instances[serviceName] = make(map[string]*instance)
	}
	r.instances[serviceName][instanceID] = &instance{
		addr:       fmt.Sprintf("127.0.0.1:%d", port),
		lastActive: time.Now(),
	}
	return nil
}

func (r *Registry) Deregister(ctx context.Context, instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances[serviceName], instanceID)
	return nil
}

func (r *Registry) Discover(ctx context.Context, serviceName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var addrs []string
	for _, inst := range r.instances[serviceName] {
		if now.Sub(inst.lastActive) < staleAfter {
			addrs = append(addrs, inst.addr)
		}
	}
	return addrs, nil
}

func (r *Registry) HealthCheck(ctx context.Context, instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[serviceName][instanceID]; ok {
		inst.lastActive = time.Now()
	}
	return nil
}
