package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	Enabled             bool
	InitialInterval     time.Duration // Initial retry interval
	MaxInterval         time.Duration // Maximum retry interval
	MaxElapsedTime      time.Duration // Maximum total retry time
	Multiplier          float64       // Backoff multiplier
	RandomizationFactor float64       // Jitter factor
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:             true,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

// BreakerRegistry manages per-provider circuit breakers.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	log      *logrus.Entry
}

// NewBreakerRegistry creates a registry that logs state changes to log.
func NewBreakerRegistry(log *logrus.Entry) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      log,
	}
}

// Get returns the circuit breaker for provider, creating it on first use.
func (r *BreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3, // Allow 3 test requests in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if r.log != nil {
				r.log.WithFields(logrus.Fields{"provider": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if code := CodeOf(err); code != "" {
				return !code.Retryable()
			}
			// Don't count user cancellation as provider failure
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[provider] = cb
	return cb
}

// Resilient wraps a Completer with a circuit breaker and exponential backoff.
// Only retryable codes are retried. An open breaker fails fast with a
// PROVIDER_ERROR.
type Resilient struct {
	next     Completer
	provider string
	breaker  *gobreaker.CircuitBreaker
	retry    RetryConfig
}

// NewResilient wraps next, using the breaker registered for provider.
func NewResilient(next Completer, provider string, breakers *BreakerRegistry, retry RetryConfig) *Resilient {
	return &Resilient{
		next:     next,
		provider: provider,
		breaker:  breakers.Get(provider),
		retry:    retry,
	}
}

// Complete sends req through the breaker, retrying transient failures.
func (r *Resilient) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response
	var lastErr error

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.Complete(ctx, req)
		})
		if err != nil {
			lastErr = err
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(NewProviderError(r.provider, req.Model, "provider "+r.provider+" is unavailable: "+err.Error(), err))
			}
			if ctx.Err() != nil || !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = result.(Response)
		return nil
	}

	if !r.retry.Enabled {
		err := operation()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return resp, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	// A context that ends during the backoff sleep surfaces as a bare
	// context error; report the last provider failure instead.
	var typed *Error
	if err != nil && lastErr != nil && ctx.Err() != nil && !errors.As(err, &typed) {
		err = lastErr
	}
	return resp, err
}
