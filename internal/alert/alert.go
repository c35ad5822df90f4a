// Package alert delivers operator notifications. Trading code calls the
// dispatcher and moves on; delivery failures are an observability problem,
// never a trading one.
package alert

import (
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// A Sink delivers one message at one severity.
type Sink interface {
	Info(msg string) error
	Warning(msg string) error
	Error(msg string) error
}

// Dispatcher fans each message out to every registered sink. One sink
// failing or stalling must not stop the others, and no failure ever
// reaches the caller.
type Dispatcher struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewDispatcher builds a dispatcher over sinks.
func NewDispatcher(logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logger.With().Str("component", "alert").Logger(),
	}
}

// Info sends an informational message to all sinks.
func (d *Dispatcher) Info(msg string) { d.send("info", msg, Sink.Info) }

// Warning sends a warning to all sinks.
func (d *Dispatcher) Warning(msg string) { d.send("warning", msg, Sink.Warning) }

// Error sends an error message to all sinks.
func (d *Dispatcher) Error(msg string) { d.send("error", msg, Sink.Error) }

func (d *Dispatcher) send(severity, msg string, deliver func(Sink, string) error) {
	var g errgroup.Group
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			if err := deliver(sink, msg); err != nil {
				d.logger.Warn().Err(err).Str("severity", severity).
					Msg("alert sink delivery failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
