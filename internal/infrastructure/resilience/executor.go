package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrRetryExhausted marks a retryable failure that used up its attempt budget.
// Callers treat it as unrecoverable for the unit of work.
var ErrRetryExhausted = errors.New("retry budget exhausted")

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor retries operations with exponential backoff and, when enabled,
// guards each named operation with its own circuit breaker. Invocations share
// no retry state, so one Executor serves concurrent stages.
type Executor struct {
	cfg    Config
	jitter func(max time.Duration) time.Duration
	wait   func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		jitter:   uniformJitter,
		wait:     sleep,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	attempt := func() error { return e.retry(ctx, op, fn, classifier) }
	if !e.cfg.BreakerEnabled {
		return attempt()
	}
	_, err := e.breaker(op, classifier).Execute(func() (any, error) {
		return nil, attempt()
	})
	return err
}

// Run is Execute for operations that produce a value.
func Run[T any](
	ctx context.Context,
	e *Executor,
	operation string,
	fn func(context.Context) (T, error),
	classifier ErrorClassifier,
) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(callCtx context.Context) error {
		v, err := fn(callCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classifier)
	return out, err
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classifier ErrorClassifier) error {
	limit := e.cfg.RetryMaxAttempts
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable {
			return err
		}
		if attempt >= limit {
			slog.Error("retry_exhausted", "operation", op, "attempt", attempt, "max_attempts", limit, "error", err)
			return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetryExhausted, attempt, err)
		}

		delay := e.cfg.Backoff(attempt) + e.jitter(e.cfg.RetryJitter)
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", limit,
			"backoff_ms", float64(delay.Microseconds())/1000.0,
			"error", err,
		)
		if !e.wait(ctx, delay) {
			return err
		}
	}
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func (e *Executor) breaker(op string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[op]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](breakerSettings(op, e.cfg, classifier))
	e.breakers[op] = cb
	return cb
}

// breakerSettings trips on failure ratio once enough requests were seen.
// Exhausted retries always count as failures; other errors count when the
// classifier records them.
func breakerSettings(op string, cfg Config, classifier ErrorClassifier) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        op,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			switch {
			case err == nil:
				return true
			case errors.Is(err, ErrRetryExhausted):
				return false
			default:
				return !classifier(err).RecordFailure
			}
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// IsFatal reports whether err is a retry exhaustion.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}

// RetryAll treats every failure except cancellation as transient.
func RetryAll(err error) ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{}
	}
	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
