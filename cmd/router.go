package main

import (
	"net/http"

	"github.com/angeloszaimis/payment-router/internal/handler"
	"github.com/angeloszaimis/payment-router/internal/metrics"
)

func setupRouter(routeHandler *handler.RouteHandler, home http.HandlerFunc, metricsCollector *metrics.Collector, strategy string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /route", routeHandler)
	mux.HandleFunc("GET /{$}", home)
	mux.HandleFunc("GET /metrics", metricsCollector.Handler(strategy))

	return mux
}
