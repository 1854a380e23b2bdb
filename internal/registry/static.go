package registry

import (
	"context"
	"slices"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

// StaticRegistry serves a fixed, configuration-defined set of instances.
type StaticRegistry struct {
	services map[string][]*instance.ServiceInstance
}

// NewStatic groups the given instances by service name, keeping their order.
func NewStatic(instances ...*instance.ServiceInstance) *StaticRegistry {
	services := make(map[string][]*instance.ServiceInstance)
	for _, inst := range instances {
		services[inst.ServiceName()] = append(services[inst.ServiceName()], inst)
	}

	return &StaticRegistry{services: services}
}

// ListInstances returns the configured instances for serviceName in
// insertion order. Unknown names yield an empty set.
func (s *StaticRegistry) ListInstances(_ context.Context, serviceName string) ([]*instance.ServiceInstance, error) {
	return slices.Clone(s.services[serviceName]), nil
}
