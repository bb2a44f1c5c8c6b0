package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// BreakerConfig holds configuration for the backend circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Closed-state window after which counts reset
	Timeout          time.Duration // Open duration before trying half-open
	FailureThreshold float64       // Failure ratio that opens the breaker
	MinRequests      uint32        // Requests needed before the ratio is evaluated
}

// DefaultBreakerConfig returns a default configuration for the circuit breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

func (g *Gateway) newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        g.name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			g.metrics.SetBreakerState(name, int(to))
		},
		// Only transient failures say anything about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || !appErrors.IsRetryable(err)
		},
	})
}

// classify maps a raw backend or breaker error onto the error taxonomy.
func (g *Gateway) classify(ctx context.Context, operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return appErrors.NewUnavailableError(g.name).WithCause(err)
	case ctx.Err() != nil:
		return appErrors.NewTimeoutError(operation).WithCause(err)
	case appErrors.IsAppError(err):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return appErrors.NewTimeoutError(operation).WithCause(err)
	default:
		return appErrors.NewStoreError(operation, err)
	}
}
