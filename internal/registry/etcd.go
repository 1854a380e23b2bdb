package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

const (
	etcdRequestTimeout = 3 * time.Second

	// DefaultLeaseTTL is the lifetime, in seconds, of a registration whose
	// owner stops renewing it.
	DefaultLeaseTTL int64 = 10
)

// EtcdRegistry reads instance records from etcd under <service>/<id> keys.
type EtcdRegistry struct {
	kv       clientv3.KV
	lease    clientv3.Lease
	leaseTTL int64
	logger   *slog.Logger

	mutex  sync.Mutex
	leases map[string]*registration
}

type registration struct {
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

type EtcdOption func(*EtcdRegistry)

// WithLease attaches every registered record to a lease of ttl seconds that
// is renewed until Deregister. Records of an instance that dies without
// deregistering expire with the lease.
func WithLease(lease clientv3.Lease, ttl int64) EtcdOption {
	return func(e *EtcdRegistry) {
		e.lease = lease
		e.leaseTTL = ttl
	}
}

func DialEtcd(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd: %w", err)
	}
	return client, nil
}

func NewEtcd(kv clientv3.KV, logger *slog.Logger, opts ...EtcdOption) *EtcdRegistry {
	e := &EtcdRegistry{
		kv:       kv,
		leaseTTL: DefaultLeaseTTL,
		logger:   logger,
		leases:   make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register stores rec for serviceName. With a lease configured the record is
// kept alive in the background until Deregister.
func (e *EtcdRegistry) Register(ctx context.Context, serviceName string, rec Record) error {
	if strings.Contains(serviceName, "/") {
		return fmt.Errorf("service name %q must not contain '/'", serviceName)
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, rec.ID)
	if e.lease == nil {
		return e.put(ctx, key, rec.ID, data)
	}

	leaseID, err := e.grant(ctx)
	if err != nil {
		return fmt.Errorf("etcd grant lease for %q: %w", rec.ID, err)
	}

	if err := e.put(ctx, key, rec.ID, data, clientv3.WithLease(leaseID)); err != nil {
		return err
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	if err := e.keepAlive(keepAliveCtx, key, leaseID); err != nil {
		cancel()
		return fmt.Errorf("etcd keep lease of %q alive: %w", rec.ID, err)
	}

	e.mutex.Lock()
	previous := e.leases[key]
	e.leases[key] = &registration{leaseID: leaseID, cancel: cancel}
	e.mutex.Unlock()

	if previous != nil {
		previous.cancel()
	}

	return nil
}

func (e *EtcdRegistry) Deregister(ctx context.Context, serviceName, instanceID string) error {
	key := serviceKey(serviceName, instanceID)

	e.mutex.Lock()
	reg := e.leases[key]
	delete(e.leases, key)
	e.mutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	if _, err := e.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("etcd delete instance %q: %w", instanceID, err)
	}

	if reg != nil {
		reg.cancel()
		if _, err := e.lease.Revoke(ctx, reg.leaseID); err != nil {
			return fmt.Errorf("etcd revoke lease of %q: %w", instanceID, err)
		}
	}
	return nil
}

func (e *EtcdRegistry) put(ctx context.Context, key, instanceID string, data []byte, opts ...clientv3.OpOption) error {
	ctx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	if _, err := e.kv.Put(ctx, key, string(data), opts...); err != nil {
		return fmt.Errorf("etcd write instance %q: %w", instanceID, err)
	}
	return nil
}

func (e *EtcdRegistry) grant(ctx context.Context) (clientv3.LeaseID, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	resp, err := e.lease.Grant(ctx, e.leaseTTL)
	if err != nil {
		return clientv3.NoLease, err
	}
	return resp.ID, nil
}

func (e *EtcdRegistry) keepAlive(ctx context.Context, key string, leaseID clientv3.LeaseID) error {
	responses, err := e.lease.KeepAlive(ctx, leaseID)
	if err != nil {
		return err
	}

	go func() {
		for range responses {
		}
		if ctx.Err() == nil {
			e.logger.Warn("Lease keepalive stopped, registration will expire",
				slog.String("key", key))
		}
	}()
	return nil
}

// ListInstances returns the instances stored for serviceName, ordered by key.
func (e *EtcdRegistry) ListInstances(ctx context.Context, serviceName string) ([]*instance.ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	resp, err := e.kv.Get(ctx, serviceKeyPrefix(serviceName),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("etcd list instances for %q: %w", serviceName, err)
	}

	instances := make([]*instance.ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rec, err := decodeRecord(kv.Value)
		if err != nil {
			e.logger.Warn("Skipping malformed instance record",
				slog.String("key", string(kv.Key)),
				slog.Any("err", err))
			continue
		}
		instances = append(instances, rec.toInstance(serviceName))
	}

	return instances, nil
}

func serviceKeyPrefix(serviceName string) string {
	return serviceName + "/"
}

func serviceKey(serviceName, instanceID string) string {
	return serviceKeyPrefix(serviceName) + instanceID
}
