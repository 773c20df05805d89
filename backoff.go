package auth

import (
	"context"
	"time"
)

// DefaultMaxAttempts is the fetch attempt ceiling of the reference policy.
const DefaultMaxAttempts = 5

const (
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultBaseDelay   = 250 * time.Millisecond
	DefaultMaxDelay    = 4 * time.Second
)

// BackoffPolicy configures the profile fetch retry loop.
type BackoffPolicy struct {
	// SettleDelay is applied once before the first attempt after a sign in.
	SettleDelay time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoffPolicy returns the reference policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		SettleDelay: DefaultSettleDelay,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// BackoffPolicyFromConfig reads the policy from cfg, keeping defaults for
// unset or invalid values.
func BackoffPolicyFromConfig(cfg Config) BackoffPolicy {
	policy := DefaultBackoffPolicy()
	if cfg == nil {
		return policy
	}
	if v := cfg.GetMaxAttempts(); v > 0 {
		policy.MaxAttempts = v
	}
	if v := cfg.GetBaseDelay(); v > 0 {
		policy.BaseDelay = v
	}
	if v := cfg.GetMaxDelay(); v > 0 {
		policy.MaxDelay = v
	}
	if v := cfg.GetSettleDelay(); v > 0 {
		policy.SettleDelay = v
	}
	return policy
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.SettleDelay < 0 {
		p.SettleDelay = 0
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	if f == nil {
		return nil
	}
	return f(ctx, d)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// Backoff computes and applies retry delays for one policy.
type Backoff struct {
	policy  BackoffPolicy
	sleeper Sleeper
}

// NewBackoff builds a scheduler. A nil sleeper uses a timer.
func NewBackoff(policy BackoffPolicy, sleeper Sleeper) *Backoff {
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	return &Backoff{policy: policy.normalized(), sleeper: sleeper}
}

// Policy returns the effective policy.
func (b *Backoff) Policy() BackoffPolicy {
	return b.policy
}

// MaxAttempts returns the attempt ceiling.
func (b *Backoff) MaxAttempts() int {
	return b.policy.MaxAttempts
}

// Exhausted reports whether attempts (count of attempts made) hit the ceiling.
func (b *Backoff) Exhausted(attempts int) bool {
	return attempts >= b.policy.MaxAttempts
}

// DelayFor returns BaseDelay * 2^n where n is the zero based index of the
// attempt that just failed, capped at MaxDelay.
func (b *Backoff) DelayFor(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := b.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	limit := b.policy.MaxDelay
	delay := base
	for i := 0; i < n; i++ {
		if limit > 0 && delay >= limit {
			break
		}
		if delay > time.Duration(1<<62)/2 {
			break
		}
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

// Wait suspends for DelayFor(n).
func (b *Backoff) Wait(ctx context.Context, n int) error {
	return b.sleeper.Sleep(ctx, b.DelayFor(n))
}

// Settle applies the fixed settle delay.
func (b *Backoff) Settle(ctx context.Context) error {
	if b.policy.SettleDelay <= 0 {
		return ctx.Err()
	}
	return b.sleeper.Sleep(ctx, b.policy.SettleDelay)
}
