// Package consul implements discovery.Registry against Hashicorp Consul.
package consul

import (
	"context"
	"fmt"
	"net"
	"strconv"

	consul "github.com/hashicorp/consul/api"

	"github.com/timour/order-microservices/internal/platform/discovery"
)

type Registry struct {
	client *consul.Client
}

var _ discovery.Registry = (*Registry)(nil)

func NewRegistry(addr string) (*Registry, error) {
	cfg := consul.DefaultConfig()
	cfg.Address = addr
	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul: new client: %w", err)
	}
	return &Registry{client: client}, nil
}

func (r *Registry) Register(ctx context.Context, instanceID, serviceName string, port int) error {
	host, err := resolveHost()
	if err != nil {
		return err
	}
	return r.client.Agent().ServiceRegister(&consul.AgentServiceRegistration{
		ID:      instanceID,
		Name:    serviceName,
		Port:    port,
		Address: host,
		Check: &consul.AgentServiceCheck{
			TTL:                            "5s",
			DeregisterCriticalServiceAfter: "10s",
		},
	})
}

func (r *Registry) Deregister(ctx context.Context, instanceID, serviceName string) error {
	return r.client.Agent().ServiceDeregister(instanceID)
}

func (r *Registry) Discover(ctx context.Context, serviceName string) ([]string, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("consul: discover %s: %w", serviceName, err)
	}
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, net.JoinHostPort(e.Service.Address, strconv.Itoa(e.Service.Port)))
	}
	return addrs, nil
}

func (r *Registry) HealthCheck(ctx context.Context, instanceID, serviceName string) error {
	return r.client.Agent().UpdateTTL("service:"+instanceID, "online", consul.HealthPassing)
}

func resolveHost() (string, error) {
	hostname, err := net.LookupAddr("127.0.0.1")
	if err != nil || len(hostname) == 0 {
		return "127.0.0.1", nil
	}
	return hostname[0], nil
}
