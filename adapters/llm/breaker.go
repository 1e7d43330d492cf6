package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// ErrCircuitOpen is returned when a provider's breaker rejects the call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes the breaker in front of each provider. Zero values fall back to defaults.
type BreakerConfig struct {
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// newBreaker opens after MaxFailures consecutive errors and lets a single
// trial call through once ResetTimeout has passed
func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	cfg = cfg.withDefaults()
	maxFailures := uint32(cfg.MaxFailures)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// a caller giving up says nothing about the provider
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// callThrough runs fn behind cb. Calls the breaker rejects fail with ErrCircuitOpen.
func callThrough(cb *gobreaker.CircuitBreaker, fn func() (repositories.ChatMessage, error)) (repositories.ChatMessage, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return repositories.ChatMessage{}, ErrCircuitOpen
	}
	if err != nil {
		return repositories.ChatMessage{}, err
	}
	return out.(repositories.ChatMessage), nil
}
