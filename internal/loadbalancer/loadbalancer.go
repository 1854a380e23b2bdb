package loadbalancer

import (
	"context"
	"errors"
	"fmt"

	"github.com/angeloszaimis/payment-router/internal/instance"
	"github.com/angeloszaimis/payment-router/internal/registry"
	"github.com/angeloszaimis/payment-router/internal/strategy"
)

// ErrNoInstancesAvailable is returned when a service has no candidate instances.
// It signals a configuration fault rather than a transient failure.
var ErrNoInstancesAvailable = errors.New("no instances available")

type LoadBalancer struct {
	registry registry.Registry
	strategy strategy.Strategy
}

func NewLoadBalancer(reg registry.Registry, strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		registry: reg,
		strategy: strategy,
	}
}

// Select picks one instance from instances.
func (lb *LoadBalancer) Select(instances []*instance.ServiceInstance) (*instance.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstancesAvailable
	}

	chosen := lb.strategy.SelectInstance(instances)
	if chosen == nil {
		return nil, fmt.Errorf("strategy returned nil instance")
	}

	return chosen, nil
}

// Next refreshes the candidate set of serviceName from the registry and
// selects one instance from it.
func (lb *LoadBalancer) Next(ctx context.Context, serviceName string) (*instance.ServiceInstance, error) {
	instances, err := lb.registry.ListInstances(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("list instances of %q: %w", serviceName, err)
	}

	chosen, err := lb.Select(instances)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", serviceName, err)
	}

	return chosen, nil
}
