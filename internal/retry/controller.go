package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/payment-router/internal/forwarder"
	"github.com/angeloszaimis/payment-router/internal/instance"
	"github.com/angeloszaimis/payment-router/internal/loadbalancer"
	"github.com/angeloszaimis/payment-router/pkg/logger"
)

// Selector picks the instance for the next attempt.
type Selector interface {
	Next(ctx context.Context, serviceName string) (*instance.ServiceInstance, error)
}

// Forwarder performs a single delivery attempt.
type Forwarder interface {
	Forward(ctx context.Context, inst *instance.ServiceInstance, req forwarder.Request) ([]byte, error)
}

// WaitFunc suspends for d or until ctx is done, whichever comes first.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// WithWait replaces the timer-based wait between attempts.
func WithWait(wait WaitFunc) Option {
	return func(c *Controller) {
		c.wait = wait
	}
}

type Controller struct {
	policy    Policy
	selector  Selector
	forwarder Forwarder
	logger    *slog.Logger
	observers []Observer
	wait      WaitFunc
}

func NewController(policy Policy, selector Selector, fwd Forwarder, log *slog.Logger, opts ...Option) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	c := &Controller{
		policy:    policy,
		selector:  selector,
		forwarder: fwd,
		logger:    log,
		wait:      sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Controller) Policy() Policy {
	return c.policy
}

// Execute delivers req, retrying transient failures per the policy.
func (c *Controller) Execute(ctx context.Context, req forwarder.Request) ([]byte, error) {
	log := logger.ForRequest(c.logger, req.ID, req.ServiceName)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.finish(log, req, attempt-1, StateAborted, fmt.Errorf("routing aborted: %w", err))
		}

		body, err := c.attempt(ctx, log, req, attempt)
		if err == nil {
			c.finish(log, req, attempt, StateSucceeded, nil)
			return body, nil
		}

		if terminal := terminalError(ctx, err); terminal != nil {
			return nil, c.finish(log, req, attempt, StateAborted, terminal)
		}

		if attempt >= c.policy.MaxAttempts {
			return nil, c.finish(log, req, attempt, StateExhausted, errRetriesExhausted(err))
		}

		delay := c.policy.Delay(attempt)
		log.Info("Retrying after backoff",
			slog.Int(logger.KeyAttempt, attempt),
			slog.Duration("delay", delay))
		c.emit(Event{
			Type:        EventBackoff,
			RequestID:   req.ID,
			ServiceName: req.ServiceName,
			Attempt:     attempt,
			Delay:       delay,
		})

		if err := c.wait(ctx, delay); err != nil {
			return nil, c.finish(log, req, attempt, StateAborted, fmt.Errorf("routing aborted during backoff: %w", err))
		}
	}
}

func (c *Controller) attempt(ctx context.Context, log *slog.Logger, req forwarder.Request, attempt int) ([]byte, error) {
	inst, err := c.selector.Next(ctx, req.ServiceName)
	if err != nil {
		c.attemptFailed(log, req, attempt, "", 0, err)
		return nil, err
	}

	start := time.Now()
	body, err := c.forwarder.Forward(ctx, inst, req)
	duration := time.Since(start)

	if err != nil {
		c.attemptFailed(log, req, attempt, inst.ID(), duration, err)
		return nil, err
	}

	log.Debug("Attempt succeeded",
		slog.Int(logger.KeyAttempt, attempt),
		slog.String(logger.KeyInstance, inst.ID()),
		slog.Duration("duration", duration))
	c.emit(Event{
		Type:        EventAttemptSucceeded,
		RequestID:   req.ID,
		ServiceName: req.ServiceName,
		Attempt:     attempt,
		State:       StateAttempting,
		Instance:    inst.ID(),
		StatusCode:  200,
		Duration:    duration,
	})

	return body, nil
}

func (c *Controller) attemptFailed(log *slog.Logger, req forwarder.Request, attempt int, instanceID string, duration time.Duration, err error) {
	kind, status := describe(err)

	log.Warn("Attempt failed",
		slog.Int(logger.KeyAttempt, attempt),
		slog.Int("max_attempts", c.policy.MaxAttempts),
		slog.String(logger.KeyInstance, instanceID),
		slog.String("kind", kind),
		slog.Any("err", err))
	c.emit(Event{
		Type:        EventAttemptFailed,
		RequestID:   req.ID,
		ServiceName: req.ServiceName,
		Attempt:     attempt,
		State:       StateAttempting,
		Instance:    instanceID,
		Kind:        kind,
		StatusCode:  status,
		Duration:    duration,
		Err:         err,
	})
}

func (c *Controller) finish(log *slog.Logger, req forwarder.Request, attempts int, state State, err error) error {
	switch state {
	case StateSucceeded:
		log.Info("Request forwarded", slog.Int("attempts", attempts))
	case StateExhausted:
		log.Error("Retry attempts exhausted", slog.Int("attempts", attempts), slog.Any("err", err))
	default:
		log.Warn("Routing aborted", slog.Int("attempts", attempts), slog.Any("err", err))
	}

	ev := Event{
		Type:        EventFinished,
		RequestID:   req.ID,
		ServiceName: req.ServiceName,
		Attempt:     attempts,
		State:       state,
		Err:         err,
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		ev.StatusCode = svcErr.StatusCode
	}
	c.emit(ev)

	return err
}

func (c *Controller) emit(e Event) {
	for _, o := range c.observers {
		o.Observe(e)
	}
}

// terminalError returns the error to surface when err must not be retried,
// or nil when err is transient.
func terminalError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("routing aborted: %w", ctxErr)
	}

	if errors.Is(err, loadbalancer.ErrNoInstancesAvailable) {
		return errNoInstances(err)
	}

	var fwdErr *forwarder.Error
	if errors.As(err, &fwdErr) && !fwdErr.Retryable() {
		return errRejected(fwdErr.StatusCode, err)
	}

	return nil
}

func describe(err error) (kind string, status int) {
	var fwdErr *forwarder.Error
	switch {
	case errors.As(err, &fwdErr):
		return fwdErr.Kind.String(), fwdErr.StatusCode
	case errors.Is(err, loadbalancer.ErrNoInstancesAvailable):
		return "no_instances", 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", 0
	default:
		return "selection_failure", 0
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
