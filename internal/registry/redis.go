package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

const DefaultRedisPrefix = "instance"

// RedisRegistry reads instance records from Redis.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisClient builds a client from either a redis:// URL or a plain host:port.
func NewRedisClient(addr string) (redis.UniversalClient, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	}), nil
}

func NewRedis(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisRegistry{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Register stores rec for serviceName. Used to seed the registry.
func (r *RedisRegistry) Register(ctx context.Context, serviceName string, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.key(serviceName, rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis write instance %q: %w", rec.ID, err)
	}
	return nil
}

// Deregister removes the record of instanceID.
func (r *RedisRegistry) Deregister(ctx context.Context, serviceName, instanceID string) error {
	if err := r.client.Del(ctx, r.key(serviceName, instanceID)).Err(); err != nil {
		return fmt.Errorf("redis delete instance %q: %w", instanceID, err)
	}
	return nil
}

// ListInstances returns the instances stored for serviceName, ordered by key.
func (r *RedisRegistry) ListInstances(ctx context.Context, serviceName string) ([]*instance.ServiceInstance, error) {
	keys, err := r.client.Keys(ctx, r.key(serviceName, "*")).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list keys for %q: %w", serviceName, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	sort.Strings(keys)

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read instances for %q: %w", serviceName, err)
	}

	instances := make([]*instance.ServiceInstance, 0, len(values))
	for i, v := range values {
		// key expired between KEYS and MGET
		s, ok := v.(string)
		if !ok {
			continue
		}

		rec, err := decodeRecord([]byte(s))
		if err != nil {
			r.logger.Warn("Skipping malformed instance record",
				slog.String("key", keys[i]),
				slog.Any("err", err))
			continue
		}
		instances = append(instances, rec.toInstance(serviceName))
	}

	return instances, nil
}

func (r *RedisRegistry) key(serviceName, instanceID string) string {
	return r.prefix + ":" + serviceName + ":" + instanceID
}
