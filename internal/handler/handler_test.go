package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/payment-router/internal/forwarder"
	"github.com/angeloszaimis/payment-router/internal/handler"
	"github.com/angeloszaimis/payment-router/internal/instance"
	"github.com/angeloszaimis/payment-router/internal/loadbalancer"
	"github.com/angeloszaimis/payment-router/internal/registry"
	"github.com/angeloszaimis/payment-router/internal/retry"
	"github.com/angeloszaimis/payment-router/internal/strategy"
	"github.com/angeloszaimis/payment-router/internal/validator"
	"github.com/angeloszaimis/payment-router/pkg/logger"
)

func instanceFor(id string, srv *httptest.Server) *instance.ServiceInstance {
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(portStr)
	Expect(err).NotTo(HaveOccurred())
	return instance.New(id, "routing", host, port, false)
}

func noWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type routerFunc func(ctx context.Context, req forwarder.Request) ([]byte, error)

func (f routerFunc) Execute(ctx context.Context, req forwarder.Request) ([]byte, error) {
	return f(ctx, req)
}

func decodeMessage(rec *httptest.ResponseRecorder) string {
	var body struct {
		Message string `json:"message"`
	}
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body.Message
}

var _ = Describe("RouteHandler", func() {
	var (
		log        *slog.Logger
		calls      atomic.Int64
		downstream *httptest.Server
		status     atomic.Int64
	)

	newHandler := func(instances ...*instance.ServiceInstance) *handler.RouteHandler {
		lb := loadbalancer.NewLoadBalancer(registry.NewStatic(instances...), strategy.NewRoundRobinStrategy())
		fwd := forwarder.New(downstream.Client(), forwarder.DefaultPath, time.Second)
		policy := retry.DefaultPolicy()
		controller, err := retry.NewController(policy, lb, fwd, log, retry.WithWait(noWait))
		Expect(err).NotTo(HaveOccurred())
		return handler.NewRouteHandler(log, validator.New(log), controller, "routing", 1024, nil)
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		calls.Store(0)
		status.Store(http.StatusOK)

		downstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(status.Load()))
			w.Write(body)
		}))
	})

	AfterEach(func() {
		downstream.Close()
	})

	post := func(h http.Handler, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	It("should return the downstream body unmodified", func() {
		h := newHandler(instanceFor("routing1", downstream))

		rec := post(h, `{"amount":10}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal(`{"amount":10}`))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(calls.Load()).To(Equal(int64(1)))
	})

	DescribeTable("rejecting malformed bodies without forwarding",
		func(body string) {
			h := newHandler(instanceFor("routing1", downstream))

			rec := post(h, body)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(Equal(`{"message":"Invalid request format"}`))
			Expect(calls.Load()).To(BeZero())
		},
		Entry("unterminated object", `{"amount":`),
		Entry("empty body", ``),
		Entry("plain text", `not-json`),
	)

	It("should answer 413 when the body exceeds the limit", func() {
		h := newHandler(instanceFor("routing1", downstream))

		rec := post(h, `{"pad":"`+strings.Repeat("x", 2048)+`"}`)

		Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(decodeMessage(rec)).To(Equal(handler.MessageBodyTooLarge))
		Expect(calls.Load()).To(BeZero())
	})

	It("should answer 503 after four failed attempts", func() {
		status.Store(http.StatusInternalServerError)
		h := newHandler(instanceFor("routing1", downstream))

		rec := post(h, `{"amount":10}`)

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(decodeMessage(rec)).To(Equal("Max retry attempts reached"))
		Expect(calls.Load()).To(Equal(int64(4)))
	})

	It("should recover when a later instance succeeds", func() {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadInstance := instanceFor("routing1", dead)
		dead.Close()

		h := newHandler(deadInstance, instanceFor("routing2", downstream))

		rec := post(h, `{"amount":10}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal(`{"amount":10}`))
		Expect(calls.Load()).To(Equal(int64(1)))
	})

	It("should answer 503 when no instances are registered", func() {
		h := newHandler()

		rec := post(h, `{"amount":10}`)

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(decodeMessage(rec)).To(Equal("No instances available"))
	})

	It("should surface a downstream rejection with its status", func() {
		status.Store(http.StatusUnprocessableEntity)
		h := newHandler(instanceFor("routing1", downstream))

		rec := post(h, `{"amount":-1}`)

		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		Expect(decodeMessage(rec)).To(Equal("Request rejected by downstream service"))
		Expect(calls.Load()).To(Equal(int64(1)))
	})

	It("should not follow a downstream redirect", func() {
		var methods []string
		redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			methods = append(methods, r.Method)
			if r.URL.Path == "/response" {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
				return
			}
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer redirecting.Close()

		h := newHandler(instanceFor("routing1", redirecting))

		rec := post(h, `{"amount":10}`)

		Expect(rec.Code).To(Equal(http.StatusBadGateway))
		Expect(decodeMessage(rec)).To(Equal("Request rejected by downstream service"))
		Expect(methods).To(Equal([]string{http.MethodPost}))
	})

	Describe("request ids", func() {
		var seen string

		newEchoHandler := func() *handler.RouteHandler {
			router := routerFunc(func(_ context.Context, req forwarder.Request) ([]byte, error) {
				seen = req.ID
				return []byte(`{}`), nil
			})
			return handler.NewRouteHandler(log, validator.New(log), router, "routing", 1024, nil)
		}

		It("should reuse the caller's request id", func() {
			req := httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(`{}`))
			req.Header.Set(handler.HeaderRequestID, "abc-123")
			rec := httptest.NewRecorder()

			newEchoHandler().ServeHTTP(rec, req)

			Expect(rec.Header().Get(handler.HeaderRequestID)).To(Equal("abc-123"))
			Expect(seen).To(Equal("abc-123"))
		})

		It("should generate a request id when none is sent", func() {
			rec := post(newEchoHandler(), `{}`)

			Expect(rec.Header().Get(handler.HeaderRequestID)).NotTo(BeEmpty())
			Expect(seen).To(Equal(rec.Header().Get(handler.HeaderRequestID)))
		})
	})

	It("should hide unexpected errors behind a generic 500", func() {
		router := routerFunc(func(context.Context, forwarder.Request) ([]byte, error) {
			return nil, errors.New("instance routing2 exploded")
		})
		h := handler.NewRouteHandler(log, validator.New(log), router, "routing", 1024, nil)

		rec := post(h, `{}`)

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(Equal(`{"message":"Internal server error"}`))
		Expect(rec.Body.String()).NotTo(ContainSubstring("routing2"))
	})
})

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (f failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

var _ = Describe("RouteHandler write failures", func() {
	var (
		buf *bytes.Buffer
		h   *handler.RouteHandler
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		log := logger.NewWithWriter(buf, "debug", false, "prod")
		router := routerFunc(func(context.Context, forwarder.Request) ([]byte, error) {
			return []byte(`{}`), nil
		})
		h = handler.NewRouteHandler(log, validator.New(log), router, "routing", 1024, nil)
	})

	DescribeTable("logging the failed write",
		func(body string, status int) {
			w := failingWriter{httptest.NewRecorder()}
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(body)))

			Expect(w.Code).To(Equal(status))
			Expect(buf.String()).To(ContainSubstring("Failed to write response"))
			Expect(buf.String()).To(ContainSubstring("broken pipe"))
		},
		Entry("on an error response", `{"amount":`, http.StatusBadRequest),
		Entry("on a routed response", `{"amount":10}`, http.StatusOK),
	)
})

var _ = Describe("Home", func() {
	It("should report the listening port", func() {
		rec := httptest.NewRecorder()
		handler.Home("8080").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("Load Balancer at port 8080"))
	})
})
