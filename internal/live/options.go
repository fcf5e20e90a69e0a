package live

import "log/slog"

// Option configures a Query.
type Option func(*options)

type options struct {
	logger *slog.Logger
	id     string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithID names the derived collection. Generated when empty.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}
