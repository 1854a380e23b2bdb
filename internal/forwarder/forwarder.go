package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/angeloszaimis/payment-router/internal/instance"
)

const (
	DefaultPath = "/response"

	// MaxResponseBytes bounds a downstream response body.
	MaxResponseBytes = 10 << 20
)

// Request is one inbound routing request. It is created per inbound call and
// discarded once an outcome is produced.
type Request struct {
	ID          string
	ServiceName string
	Body        []byte
}

// HTTPForwarder posts request bodies to an instance endpoint.
type HTTPForwarder struct {
	client         *http.Client
	path           string
	attemptTimeout time.Duration
}

// New creates an HTTPForwarder. A zero attemptTimeout leaves the attempt
// bounded only by the caller's context.
func New(client *http.Client, path string, attemptTimeout time.Duration) *HTTPForwarder {
	if client == nil {
		client = &http.Client{}
	}

	// Redirects are not followed; a 3xx is the attempt's response.
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if path == "" {
		path = DefaultPath
	}

	return &HTTPForwarder{
		client:         &noRedirect,
		path:           path,
		attemptTimeout: attemptTimeout,
	}
}

// Forward sends req.Body to inst and returns the raw response body.
func (f *HTTPForwarder) Forward(ctx context.Context, inst *instance.ServiceInstance, req Request) ([]byte, error) {
	attemptCtx := ctx
	if f.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.attemptTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, inst.Endpoint(f.path), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", inst.ID(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.ID != "" {
		httpReq.Header.Set("X-Request-ID", req.ID)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       KindResponseError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("instance %s answered %s", inst.ID(), resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}

	// Bodies are passed through verbatim, never truncated.
	if len(body) > MaxResponseBytes {
		return nil, &Error{
			Kind:       KindResponseError,
			StatusCode: http.StatusBadGateway,
			Err:        fmt.Errorf("instance %s response exceeds %d bytes", inst.ID(), MaxResponseBytes),
		}
	}

	return body, nil
}

func classify(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindConnectionFailure, Err: err}
}
