package consul

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

// ErrNoInstances is returned when a service has no healthy instance.
var ErrNoInstances = errors.New("no healthy instances")

// ServiceInstance represents a discovered service instance.
type ServiceInstance struct {
	ID      string
	Name    string
	Address string
	Port    int
	Tags    []string
}

// HostPort returns the instance address in host:port form.
func (s *ServiceInstance) HostPort() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Discover retrieves all healthy instances of a service.
func (c *Client) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	services, _, err := c.api.Health().Service(serviceName, "", true, q)
	if err != nil {
		return nil, fmt.Errorf("failed to discover service %s: %w", serviceName, err)
	}

	if len(services) == 0 {
		return nil, fmt.Errorf("%w for service %s", ErrNoInstances, serviceName)
	}

	instances := make([]*ServiceInstance, 0, len(services))
	for _, entry := range services {
		instance := &ServiceInstance{
			ID:      entry.Service.ID,
			Name:    entry.Service.Service,
			Address: entry.Service.Address,
			Port:    entry.Service.Port,
			Tags:    entry.Service.Tags,
		}

		// Use node address if service address is empty
		if instance.Address == "" && entry.Node != nil {
			instance.Address = entry.Node.Address
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

// DiscoverOne retrieves a single healthy instance using random load balancing.
func (c *Client) DiscoverOne(ctx context.Context, serviceName string) (*ServiceInstance, error) {
	instances, err := c.Discover(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return instances[rand.IntN(len(instances))], nil
}

// ResolveBaseURL picks a healthy instance of serviceName and returns its
// root URL, e.g. "http://10.0.0.4:8080".
func (c *Client) ResolveBaseURL(ctx context.Context, serviceName, scheme string) (string, error) {
	if scheme == "" {
		scheme = "http"
	}
	instance, err := c.DiscoverOne(ctx, serviceName)
	if err != nil {
		return "", err
	}
	return scheme + "://" + instance.HostPort(), nil
}
