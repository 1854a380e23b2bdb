package retry

import "time"

type State int

const (
	StateAttempting State = iota + 1
	StateSucceeded
	StateExhausted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventAttemptSucceeded EventType = "attempt_succeeded"
	EventAttemptFailed    EventType = "attempt_failed"
	EventBackoff          EventType = "backoff"
	EventFinished         EventType = "finished"
)

// Event describes one step of an execution. Attempt events carry
// StateAttempting with the 1-based attempt number; EventFinished carries the
// terminal state. Fields that do not apply to a given Type are left zero.
type Event struct {
	Type        EventType
	RequestID   string
	ServiceName string
	Attempt     int
	Instance    string
	// Kind labels the failure, e.g. "timeout" or "no_instances".
	Kind       string
	StatusCode int
	Duration   time.Duration
	Delay      time.Duration
	State      State
	Err        error
}

// Observer receives execution events synchronously; implementations must
// not block.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}
