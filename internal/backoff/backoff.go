package backoff

import (
	"context"
	"math"
	"time"
)

// Policy describes an exponential reconnect/retry schedule.
type Policy struct {
	InitialDelay time.Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" toml:"max_delay"`
	Factor       float64       `yaml:"factor" toml:"factor"`
	Jitter       time.Duration `yaml:"jitter" toml:"jitter"`
	MaxAttempts  int           `yaml:"max_attempts" toml:"max_attempts"` // 0 = forever
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       1.6,
		Jitter:       200 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultPolicy. MaxAttempts is left as is.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before attempt n (1-based). Attempt 1 waits InitialDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return ApplyJitter(time.Duration(d), p.Jitter)
}

// Exhausted reports whether attempt n is past MaxAttempts.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// ApplyJitter shifts d uniformly within [-jitter, +jitter], never below zero.
func ApplyJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	j := time.Duration(randInt63n(int64(2*jitter)+1) - int64(jitter))
	if d+j < 0 {
		return d
	}
	return d + j
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
