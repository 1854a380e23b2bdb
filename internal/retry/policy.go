package retry

import (
	"fmt"
	"math"
	"time"
)

const backoffMultiplier = 2

// Policy bounds the retry loop. MaxAttempts counts the first try.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy is one initial try plus three retries, waiting 1s, 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative, got %s", p.MaxDelay)
	}
	return nil
}

// Delay returns the wait after the failed attempt number failed (1-based):
// BaseDelay * 2^(failed-1), capped by MaxDelay.
func (p Policy) Delay(failed int) time.Duration {
	if failed < 1 || p.BaseDelay <= 0 {
		return 0
	}

	delay := float64(p.BaseDelay) * math.Pow(backoffMultiplier, float64(failed-1))
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}

	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
