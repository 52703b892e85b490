// Package fetch implements the resilient remote-fetch executor and the
// cache-first fetch coordinator.
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"barvault/internal/provider"
)

// ExecutorConfig holds retry and circuit-breaker parameters.
type ExecutorConfig struct {
	MaxRetries       int           // retries after the first attempt (default 5)
	BaseDelay        time.Duration // first backoff delay (default 1s)
	MaxDelay         time.Duration // backoff cap (default 32s)
	AttemptTimeout   time.Duration // per remote attempt (default 30s)
	BreakerThreshold int           // consecutive failures to open (default 5)
	BreakerCooldown  time.Duration // open -> half-open wait (default 60s)
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 32 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
	return c
}

// Executor wraps remote calls with exponential backoff, bounded retries,
// and a circuit breaker. It knows nothing about caching; one shared
// instance coordinates the failure state across all callers.
type Executor struct {
	cfg ExecutorConfig
	brk *breaker
	log *slog.Logger
}

// NewExecutor creates an Executor with the given configuration.
func NewExecutor(cfg ExecutorConfig, log *slog.Logger) *Executor {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		cfg: cfg,
		brk: &breaker{
			threshold: cfg.BreakerThreshold,
			cooldown:  cfg.BreakerCooldown,
			now:       time.Now,
		},
		log: log.With("component", "executor"),
	}
}

// Execute runs op, retrying on failure with exponential backoff and
// jitter. Before every attempt the circuit breaker is consulted; while
// open it fails fast with *CircuitOpenError and no remote call is made.
// A *provider.InvalidSymbolError is returned immediately without retry
// and without counting against the breaker. When all attempts fail the
// last error is wrapped in *FetchExhaustedError.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = e.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // attempts are bounded by count, not elapsed time
	bo.Reset()

	maxAttempts := e.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := e.brk.allow(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		err := op(attemptCtx)
		cancel()

		if err == nil {
			e.brk.success()
			return nil
		}
		if provider.IsInvalidSymbol(err) {
			// Not a remote-health problem; surface untouched.
			e.brk.settleTrial()
			return err
		}
		if ctx.Err() != nil {
			e.brk.settleTrial()
			return ctx.Err()
		}

		e.brk.failure()
		lastErr = err

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			delay := bo.NextBackOff()
			e.log.Warn("remote call failed, backing off",
				"attempt", attempt+1,
				"delay", delay.Round(time.Millisecond),
				"err", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return &FetchExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// BreakerState is a snapshot of the circuit-breaker state.
type BreakerState struct {
	ConsecutiveFailures int
	Open                bool
	OpenedAt            time.Time
}

// Breaker returns a snapshot of the current circuit-breaker state.
func (e *Executor) Breaker() BreakerState {
	return e.brk.state()
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

// breaker is the process-local circuit breaker. It starts closed; after
// threshold consecutive failures it opens and fails fast until the
// cooldown elapses, when exactly one trial call is let through.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	consecutiveFailures int
	open                bool
	openedAt            time.Time
	trialInFlight       bool
}

// allow returns nil when a call may proceed, or *CircuitOpenError when
// the breaker is open. In the half-open window it admits one trial call
// and rejects everything else until the trial settles.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}

	elapsed := b.now().Sub(b.openedAt)
	if elapsed < b.cooldown {
		return &CircuitOpenError{RetryAfter: b.cooldown - elapsed}
	}
	if b.trialInFlight {
		return &CircuitOpenError{RetryAfter: b.cooldown}
	}
	b.trialInFlight = true
	return nil
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.open = false
	b.openedAt = time.Time{}
	b.trialInFlight = false
}

// settleTrial releases the half-open trial slot without counting the
// outcome. Used when a trial exits for a reason that says nothing about
// remote health (invalid symbol, caller cancellation); the next allow
// after the slot is freed admits a fresh trial.
func (b *breaker) settleTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open && b.trialInFlight {
		// Failed trial call re-opens and restarts the cooldown clock.
		b.openedAt = b.now()
		b.trialInFlight = false
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.open = true
		b.openedAt = b.now()
	}
}

func (b *breaker) state() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		ConsecutiveFailures: b.consecutiveFailures,
		Open:                b.open,
		OpenedAt:            b.openedAt,
	}
}
