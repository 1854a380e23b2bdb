package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

type Registry interface {
	ListInstances(ctx context.Context, serviceName string) ([]*instance.ServiceInstance, error)
}

// Record is the stored form of an instance in the Redis and etcd registries.
type Record struct {
	ID     string `json:"id"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
}

func (r Record) validate() error {
	if r.ID == "" {
		return fmt.Errorf("missing instance id")
	}
	if r.Host == "" {
		return fmt.Errorf("missing host for instance %q", r.ID)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("invalid port %d for instance %q", r.Port, r.ID)
	}
	return nil
}

func (r Record) toInstance(serviceName string) *instance.ServiceInstance {
	return instance.New(r.ID, serviceName, r.Host, r.Port, r.Secure)
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}
