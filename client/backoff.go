package client

import (
	"fmt"
	"time"
)

// Backoff selects how reconnect delays grow between attempts.
type Backoff string

const (
	// BackoffExponential doubles the delay each attempt, capped at Max.
	BackoffExponential Backoff = "exponential"
	// BackoffLinear grows the delay by Initial each attempt, capped at Max.
	BackoffLinear Backoff = "linear"
	// BackoffFixed waits Initial before every attempt.
	BackoffFixed Backoff = "fixed"
)

// Reconnect delay defaults.
const (
	defaultReconnectInitial = 500 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// ReconnectPolicy controls automatic reconnection after a lost connection.
// The zero value disables reconnection; pass a policy to WithReconnect to
// enable it.
type ReconnectPolicy struct {
	Enabled     bool          // Set by WithReconnect.
	Mode        Backoff       // Delay growth curve; empty means exponential.
	Initial     time.Duration // First delay; 0 uses 500ms.
	Max         time.Duration // Delay cap; 0 uses 30s.
	MaxAttempts int           // Give up after this many attempts; 0 retries forever.
}

func (p *ReconnectPolicy) validate() error {
	switch p.Mode {
	case "", BackoffExponential, BackoffLinear, BackoffFixed:
	default:
		return fmt.Errorf("unknown backoff mode %q", p.Mode)
	}
	if p.Initial < 0 || p.Max < 0 || p.MaxAttempts < 0 {
		return fmt.Errorf("reconnect policy values must be >= 0")
	}
	if p.Initial == 0 {
		p.Initial = defaultReconnectInitial
	}
	if p.Max == 0 {
		p.Max = defaultReconnectMax
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return nil
}

// Delay returns the wait before the given attempt (attempts count from 1).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = defaultReconnectInitial
	}
	max := p.Max
	if max <= 0 {
		max = defaultReconnectMax
	}
	var d time.Duration
	switch p.Mode {
	case BackoffFixed:
		d = initial
	case BackoffLinear:
		d = initial * time.Duration(attempt)
	default: // Exponential.
		d = initial
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				break
			}
		}
	}
	if d > max {
		d = max
	}
	return d
}
