package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

type roundRobinStrategy struct {
	current atomic.Uint64
}

func (rr *roundRobinStrategy) SelectInstance(instances []*instance.ServiceInstance) *instance.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}

	n := rr.current.Add(1)

	index := (n - 1) % uint64(len(instances))

	return instances[index]
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
