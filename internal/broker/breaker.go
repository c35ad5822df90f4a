package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerTransport wraps a Transport so that a misbehaving gateway trips a
// circuit breaker instead of letting every request wait out its own
// timeout. Dial, Close and Events pass through untouched: connection
// management has its own retry policies and must never be short-circuited.
type BreakerTransport struct {
	transport Transport
	breaker   *gobreaker.CircuitBreaker
}

var _ Transport = (*BreakerTransport)(nil)

// BreakerSettings configures the request circuit breaker.
type BreakerSettings struct {
	MaxRequests  uint32        // requests allowed through while half-open
	Interval     time.Duration // closed-state count reset interval
	Timeout      time.Duration // how long the circuit stays open
	MinRequests  uint32        // minimum requests before tripping
	FailureRatio float64       // failure ratio threshold
}

// NewBreakerTransport wraps transport with sensible defaults.
func NewBreakerTransport(transport Transport, logger zerolog.Logger) *BreakerTransport {
	return NewBreakerTransportWithSettings(transport, logger, BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewBreakerTransportWithSettings wraps transport with custom settings.
func NewBreakerTransportWithSettings(transport Transport, logger zerolog.Logger, settings BreakerSettings) *BreakerTransport {
	gbSettings := gobreaker.Settings{
		Name:        "GatewayRequests",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &BreakerTransport{
		transport: transport,
		breaker:   gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Dial passes through to the wrapped transport.
func (b *BreakerTransport) Dial(ctx context.Context) error {
	return b.transport.Dial(ctx)
}

// Close passes through to the wrapped transport.
func (b *BreakerTransport) Close() error {
	return b.transport.Close()
}

// Events passes through to the wrapped transport.
func (b *BreakerTransport) Events() <-chan Event {
	return b.transport.Events()
}

// Request executes the call through the circuit breaker.
func (b *BreakerTransport) Request(ctx context.Context, method string, params, result any) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.transport.Request(ctx, method, params, result)
	})
	return err
}
