package event

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/metrics"
)

// BreakerConfig tunes the circuit breaker around a publisher.
type BreakerConfig struct {
	Name             string
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// BreakerPublisher fails fast with gobreaker.ErrOpenState while the wrapped
// publisher keeps failing, and records publish metrics.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher wraps next with a circuit breaker.
func NewBreakerPublisher(next Publisher, cfg BreakerConfig) *BreakerPublisher {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.GetDefault().WithFields(logger.Fields{
				logger.FieldComponent: "event-breaker",
				"from":                from.String(),
				"to":                  to.String(),
			}).Warnf("Circuit breaker %s changed state", name)
		},
	}
	return &BreakerPublisher{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Publish forwards env through the breaker.
func (p *BreakerPublisher) Publish(ctx context.Context, env Envelope) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, env)
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.EventsPublishedTotal.WithLabelValues(env.Type, outcome).Inc()
	return err
}

// State reports the breaker state (closed, half-open, open).
func (p *BreakerPublisher) State() string {
	return p.breaker.State().String()
}
