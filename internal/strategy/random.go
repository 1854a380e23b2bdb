package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

type randomStrategy struct{}

func (r *randomStrategy) SelectInstance(instances []*instance.ServiceInstance) *instance.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}

	return instances[rand.IntN(len(instances))]
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
