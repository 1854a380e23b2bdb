// Mockinstance is a downstream payment processor used for local runs of the
// router. It serves POST /response and echoes the payment back together with
// its instance id.
//
// Usage:
//
//	go run ./scripts/mockinstance -id routing1 -port 8081
//	go run ./scripts/mockinstance -id routing2 -port 8082 -failure-rate 0.5
//	go run ./scripts/mockinstance -id routing3 -port 8083 -redis localhost:6379
//
// With -redis or -etcd the instance registers itself on start and removes
// its record on shutdown. The etcd record is leased, so it also expires
// shortly after the process is killed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/angeloszaimis/payment-router/internal/httpserver"
	"github.com/angeloszaimis/payment-router/internal/registry"
	"github.com/angeloszaimis/payment-router/pkg/logger"
)

type echoResponse struct {
	Instance  string          `json:"instance"`
	RequestID string          `json:"request_id,omitempty"`
	Payment   json.RawMessage `json:"payment"`
}

func main() {
	var (
		id          = flag.String("id", "routing1", "instance id")
		service     = flag.String("service", "routing", "service name to register under")
		host        = flag.String("host", "localhost", "host advertised in the registry")
		port        = flag.Int("port", 8081, "port to listen on")
		failureRate = flag.Float64("failure-rate", 0, "fraction of requests answered with 500")
		delay       = flag.Duration("delay", 0, "artificial processing delay")
		redisAddr   = flag.String("redis", "", "redis address to self-register in")
		etcdAddrs   = flag.String("etcd", "", "comma-separated etcd endpoints to self-register in")
		level       = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logger.New(*level, false, "dev").With(slog.String("instance", *id))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deregister, err := register(ctx, log, *service, registry.Record{ID: *id, Host: *host, Port: *port}, *redisAddr, *etcdAddrs)
	if err != nil {
		log.Error("Failed to register instance", slog.Any("err", err))
		os.Exit(1)
	}
	defer deregister()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /response", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		log.Info("Received payment",
			slog.String("request_id", requestID),
			slog.Int("size", len(body)))

		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		}

		if rand.Float64() < *failureRate {
			log.Warn("Injected failure", slog.String("request_id", requestID))
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}

		if !json.Valid(body) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(echoResponse{
			Instance:  *id,
			RequestID: requestID,
			Payment:   body,
		})
	})

	srv, err := httpserver.New(fmt.Sprintf(":%d", *port), mux)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()
	log.Info("Mock instance started", slog.Int("port", *port), slog.Float64("failure_rate", *failureRate))

	select {
	case <-ctx.Done():
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Server failed", slog.Any("err", err))
		}
	}
}

func register(ctx context.Context, log *slog.Logger, service string, rec registry.Record, redisAddr, etcdAddrs string) (func(), error) {
	switch {
	case redisAddr != "":
		client, err := registry.NewRedisClient(redisAddr)
		if err != nil {
			return nil, err
		}
		reg := registry.NewRedis(client, registry.DefaultRedisPrefix, log)
		if err := reg.Register(ctx, service, rec); err != nil {
			client.Close()
			return nil, err
		}
		log.Info("Registered in redis", slog.String("address", redisAddr))
		return func() {
			if err := reg.Deregister(context.Background(), service, rec.ID); err != nil {
				log.Warn("Failed to deregister", slog.Any("err", err))
			}
			client.Close()
		}, nil

	case etcdAddrs != "":
		client, err := registry.DialEtcd(strings.Split(etcdAddrs, ","), 5*time.Second)
		if err != nil {
			return nil, err
		}
		reg := registry.NewEtcd(client, log, registry.WithLease(client, registry.DefaultLeaseTTL))
		if err := reg.Register(ctx, service, rec); err != nil {
			client.Close()
			return nil, err
		}
		log.Info("Registered in etcd", slog.String("endpoints", etcdAddrs))
		return func() {
			if err := reg.Deregister(context.Background(), service, rec.ID); err != nil {
				log.Warn("Failed to deregister", slog.Any("err", err))
			}
			client.Close()
		}, nil

	default:
		return func() {}, nil
	}
}
