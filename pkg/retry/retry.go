package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded retry with exponential backoff.
// The delay before attempt n (n >= 2) is BaseDelay * 2^(n-2), capped at MaxDelay when set.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable reports whether an error is worth another attempt. Nil means every error is retryable.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a real timer; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Permanent wraps err so Do stops immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval < 0 {
		b.InitialInterval = 0
	}
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the backoff before the given attempt (1-based). Attempt 1 has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	b := p.exponential()
	var d time.Duration
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// It returns the number of attempts made and the last error fn returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleepTimer{ctx: ctx, sleep: p.Sleep, abort: cancel, c: make(chan time.Time, 1)}
	}

	attempts := 0
	var lastErr error
	operation := func() error {
		attempts++
		lastErr = fn(ctx, attempts)
		if lastErr == nil || IsPermanent(lastErr) {
			return lastErr
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(maxAttempts-1)), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, nil, timer); err == nil {
		return attempts, nil
	}
	return attempts, lastErr
}

// sleepTimer adapts Policy.Sleep to backoff.Timer. A failed sleep cancels the run.
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	abort context.CancelFunc
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		t.abort()
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }
