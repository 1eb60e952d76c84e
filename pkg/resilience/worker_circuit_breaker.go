// Package resilience wraps calls to external services (language model, Gmail)
// in circuit breakers.
package resilience

import (
	"errors"
	"time"

	"engagement_worker/pkg/logger"

	"github.com/sony/gobreaker"
)

// Config tunes a breaker. The breaker trips after more than
// ConsecutiveFailures failures in a row, or when at least MinRequests calls
// in the current interval fail at FailureRatio or above.
type Config struct {
	Name                string
	MaxRequests         uint32        // calls allowed while half-open
	Interval            time.Duration // closed-state counter reset
	Timeout             time.Duration // open-state duration before half-open
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
}

// DefaultConfig returns the settings used for every external API.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		MinRequests:         10,
		FailureRatio:        0.6,
	}
}

// Breaker is a named circuit breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("breaker", name).Warn("circuit breaker state changed from %s to %s", from, to)
		},
		IsSuccessful: func(err error) bool {
			var p *permanentError
			return err == nil || errors.As(err, &p)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State is closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a client-side error (bad request, auth) that must not count
// against the breaker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsOpen reports whether err was returned because the breaker rejected the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
