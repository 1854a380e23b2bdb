package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/payment-router/config"
	"github.com/angeloszaimis/payment-router/internal/forwarder"
	"github.com/angeloszaimis/payment-router/internal/handler"
	"github.com/angeloszaimis/payment-router/internal/httpserver"
	"github.com/angeloszaimis/payment-router/internal/instance"
	"github.com/angeloszaimis/payment-router/internal/loadbalancer"
	"github.com/angeloszaimis/payment-router/internal/metrics"
	"github.com/angeloszaimis/payment-router/internal/registry"
	"github.com/angeloszaimis/payment-router/internal/retry"
	"github.com/angeloszaimis/payment-router/internal/strategy"
	"github.com/angeloszaimis/payment-router/internal/validator"
	"github.com/angeloszaimis/payment-router/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	strat, err := createStrategy(log, cfg.Routing.Strategy)
	if err != nil {
		log.Error("Failed to create strategy",
			slog.String("strategy", cfg.Routing.Strategy),
			slog.Any("err", err))
		os.Exit(1)
	}

	reg, closeRegistry, err := createRegistry(cfg, log)
	if err != nil {
		log.Error("Failed to create registry",
			slog.String("type", cfg.Registry.Type),
			slog.Any("err", err))
		os.Exit(1)
	}
	defer closeRegistry()

	policy := retryPolicy(cfg.Retry)
	attemptTimeout := cfg.Routing.AttemptTimeoutDuration()

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)
	collector.Start(ctx)

	lb := loadbalancer.NewLoadBalancer(reg, strat)
	fwd := forwarder.New(&http.Client{}, cfg.Routing.Path, attemptTimeout)

	controller, err := retry.NewController(policy, lb, fwd, log, retry.WithObserver(collector))
	if err != nil {
		log.Error("Failed to create retry controller", slog.Any("err", err))
		os.Exit(1)
	}

	routeHandler := handler.NewRouteHandler(log, validator.New(log), controller,
		cfg.Routing.ServiceName, cfg.Server.MaxBodyBytes, collector)

	mux := setupRouter(routeHandler, handler.Home(cfg.Server.Port()), collector, cfg.Routing.Strategy)

	srv, err := httpserver.New(cfg.Server.Address, mux,
		httpserver.WithWriteTimeout(routingBudget(policy, attemptTimeout)))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Payment router started",
		slog.String("address", cfg.Server.Address),
		slog.String("service", cfg.Routing.ServiceName),
		slog.String("strategy", cfg.Routing.Strategy),
		slog.String("registry", cfg.Registry.Type),
		slog.Int("max_attempts", policy.MaxAttempts),
		slog.Duration("base_delay", policy.BaseDelay))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting payment router", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func createStrategy(logger *slog.Logger, strategyType string) (strategy.Strategy, error) {
	switch strategyType {
	case strategy.RoundRobin:
		return strategy.NewRoundRobinStrategy(), nil
	case strategy.Random:
		return strategy.NewRandomStrategy(), nil
	default:
		logger.Warn("Unknown strategy, defaulting to round-robin", slog.String("requested", strategyType))
		return strategy.NewRoundRobinStrategy(), nil
	}
}

// createRegistry returns the configured registry and a function releasing
// its backend connection.
func createRegistry(cfg *config.Config, log *slog.Logger) (registry.Registry, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Registry.Type {
	case config.RegistryStatic, "":
		instances := make([]*instance.ServiceInstance, 0, len(cfg.Registry.Instances))
		for _, ic := range cfg.Registry.Instances {
			instances = append(instances, instance.New(ic.ID, cfg.Routing.ServiceName, ic.Host, ic.Port, ic.Secure))
		}
		log.Info("Using static registry", slog.Int("instances", len(instances)))
		return registry.NewStatic(instances...), noop, nil

	case config.RegistryRedis:
		client, err := registry.NewRedisClient(cfg.Registry.Redis.Address)
		if err != nil {
			return nil, noop, err
		}
		log.Info("Using redis registry",
			slog.String("address", cfg.Registry.Redis.Address),
			slog.String("prefix", cfg.Registry.Redis.Prefix))
		return registry.NewRedis(client, cfg.Registry.Redis.Prefix, log), client.Close, nil

	case config.RegistryEtcd:
		client, err := registry.DialEtcd(cfg.Registry.Etcd.Endpoints, cfg.Registry.Etcd.DialTimeoutDuration())
		if err != nil {
			return nil, noop, err
		}
		log.Info("Using etcd registry", slog.Any("endpoints", cfg.Registry.Etcd.Endpoints))
		return registry.NewEtcd(client, log), client.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown registry type %q", cfg.Registry.Type)
	}
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelayDuration(),
		MaxDelay:    cfg.MaxDelayDuration(),
	}
}

// responseHeadroom is the time left for writing a response once the retry
// loop has given up.
const responseHeadroom = 5 * time.Second

// routingBudget is the longest a routed request may take: every attempt
// running to its timeout plus every backoff wait, plus responseHeadroom.
// Unbounded attempts yield zero, which leaves the write unbounded too.
func routingBudget(policy retry.Policy, attemptTimeout time.Duration) time.Duration {
	if attemptTimeout <= 0 {
		return 0
	}

	budget := time.Duration(policy.MaxAttempts) * attemptTimeout
	for n := 1; n < policy.MaxAttempts; n++ {
		budget += policy.Delay(n)
	}

	return budget + responseHeadroom
}
