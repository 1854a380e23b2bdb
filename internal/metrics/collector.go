package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/payment-router/internal/retry"
)

type EventType string

const (
	EventRequestReceived EventType = "request_received"
	EventAttemptFinished EventType = "attempt_finished"
	EventRetryScheduled  EventType = "retry_scheduled"
	EventResponseSent    EventType = "response_sent"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Instance   string
	Duration   time.Duration
	StatusCode int
	// FailureKind is empty for successful attempts.
	FailureKind string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking. Events are dropped when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
	}
}

// Observe turns retry controller events into metric events.
func (c *Collector) Observe(e retry.Event) {
	switch e.Type {
	case retry.EventAttemptSucceeded, retry.EventAttemptFailed:
		c.Emit(MetricEvent{
			Type:        EventAttemptFinished,
			Timestamp:   time.Now(),
			Instance:    e.Instance,
			Duration:    e.Duration,
			StatusCode:  e.StatusCode,
			FailureKind: e.Kind,
		})
	case retry.EventBackoff:
		c.Emit(MetricEvent{
			Type:      EventRetryScheduled,
			Timestamp: time.Now(),
			Duration:  e.Delay,
		})
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests()

	case EventAttemptFinished:
		c.metrics.RecordAttempt(event.Instance, event.Duration, event.FailureKind)

	case EventRetryScheduled:
		c.metrics.IncrementRetries()

	case EventResponseSent:
		c.metrics.RecordResponse(event.StatusCode)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
