package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/payment-router/internal/forwarder"
	"github.com/angeloszaimis/payment-router/internal/metrics"
	"github.com/angeloszaimis/payment-router/internal/retry"
	"github.com/angeloszaimis/payment-router/pkg/logger"
)

const HeaderRequestID = "X-Request-ID"

const (
	MessageInvalidRequest = "Invalid request format"
	MessageBodyTooLarge   = "Request body too large"
	MessageInternalError  = "Internal server error"
)

// Validator decides whether an inbound body may be routed.
type Validator interface {
	Validate(raw []byte) bool
}

// Router delivers a validated request downstream.
type Router interface {
	Execute(ctx context.Context, req forwarder.Request) ([]byte, error)
}

type RouteHandler struct {
	logger           *slog.Logger
	validator        Validator
	router           Router
	serviceName      string
	maxBodyBytes     int64
	metricsCollector *metrics.Collector
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

type messageResponse struct {
	Message string `json:"message"`
}

func NewRouteHandler(logger *slog.Logger, v Validator, router Router, serviceName string, maxBodyBytes int64, collector *metrics.Collector) *RouteHandler {
	return &RouteHandler{
		logger:           logger,
		validator:        v,
		router:           router,
		serviceName:      serviceName,
		maxBodyBytes:     maxBodyBytes,
		metricsCollector: collector,
	}
}

func (h *RouteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)

	log := logger.ForRequest(h.logger, requestID, h.serviceName)
	log.Info("Received request",
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("user_agent", r.UserAgent()))

	h.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: start,
	})

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	defer func() {
		h.emitEvent(metrics.MetricEvent{
			Type:       metrics.EventResponseSent,
			Timestamp:  time.Now(),
			Duration:   time.Since(start),
			StatusCode: wrapped.statusCode,
		})
	}()

	body, err := h.readBody(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Warn("Request body too large", slog.Int64("limit", maxErr.Limit))
			writeMessage(wrapped, log, http.StatusRequestEntityTooLarge, MessageBodyTooLarge)
			return
		}
		log.Warn("Failed to read request body", slog.Any("err", err))
		writeMessage(wrapped, log, http.StatusBadRequest, MessageInvalidRequest)
		return
	}

	if !h.validator.Validate(body) {
		log.Info("Rejected malformed request")
		writeMessage(wrapped, log, http.StatusBadRequest, MessageInvalidRequest)
		return
	}

	resp, err := h.router.Execute(r.Context(), forwarder.Request{
		ID:          requestID,
		ServiceName: h.serviceName,
		Body:        body,
	})
	if err != nil {
		h.writeError(wrapped, log, err)
		return
	}

	wrapped.Header().Set("Content-Type", "application/json")
	wrapped.WriteHeader(http.StatusOK)
	if _, err := wrapped.Write(resp); err != nil {
		log.Warn("Failed to write response", slog.Any("err", err))
	}
}

func (h *RouteHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	reader := r.Body
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// writeError maps a routing failure to the caller-visible response. Causes
// and instance identities stay in the log.
func (h *RouteHandler) writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var svcErr *retry.ServiceError
	if errors.As(err, &svcErr) {
		writeMessage(w, log, svcErr.StatusCode, svcErr.Message)
		return
	}

	if errors.Is(err, context.Canceled) {
		log.Info("Client went away before routing finished", slog.Any("err", err))
	} else {
		log.Error("Routing failed", slog.Any("err", err))
	}
	writeMessage(w, log, http.StatusInternalServerError, MessageInternalError)
}

func writeMessage(w http.ResponseWriter, log *slog.Logger, status int, message string) {
	payload, _ := json.Marshal(messageResponse{Message: message})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		log.Warn("Failed to write response", slog.Int("status", status), slog.Any("err", err))
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (h *RouteHandler) emitEvent(event metrics.MetricEvent) {
	if h.metricsCollector == nil {
		return
	}

	h.metricsCollector.Emit(event)
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
