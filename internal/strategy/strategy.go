package strategy

import (
	"github.com/angeloszaimis/payment-router/internal/instance"
)

const (
	RoundRobin = "round-robin"
	Random     = "random"
)

// Strategy picks one instance from a candidate set. It returns nil only
// when the set is empty.
type Strategy interface {
	SelectInstance(instances []*instance.ServiceInstance) *instance.ServiceInstance
}
