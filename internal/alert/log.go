package alert

import "github.com/rs/zerolog"

// LogSink writes alerts to the structured log. Always registered so that
// alerts survive even when no external channel is configured.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a log-backed sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "alert").Logger()}
}

func (s *LogSink) Info(msg string) error {
	s.logger.Info().Msg(msg)
	return nil
}

func (s *LogSink) Warning(msg string) error {
	s.logger.Warn().Msg(msg)
	return nil
}

func (s *LogSink) Error(msg string) error {
	s.logger.Error().Msg(msg)
	return nil
}
