package channel

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings tune the publish circuit breaker.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Guarded trips after consecutive publish failures and then fails fast with
// ErrUnavailable until the open timeout passes. Other calls pass through.
type Guarded struct {
	Channel
	cb *gobreaker.CircuitBreaker
}

// NewGuarded wraps ch with a circuit breaker around Publish.
func NewGuarded(ch Channel, s BreakerSettings, log *zap.SugaredLogger) *Guarded {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publish",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Guarded{Channel: ch, cb: cb}
}

func (g *Guarded) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := g.cb.Execute(func() (interface{}, error) {
		return g.Channel.Publish(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", unavailable("publish", err)
	}
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() string {
	return g.cb.State().String()
}
