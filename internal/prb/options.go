package prb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Options configures a PRB at construction time. Use the With* functions
// to build an Options value.
type Options struct {
	NCommitters       int
	Logger            zerolog.Logger
	MetricsRegisterer prometheus.Registerer
}

// Option mutates an Options value during construction.
type Option func(*Options)

// WithCommitters sets the number of committer slots. Required; must be in
// [1, 64].
func WithCommitters(n int) Option {
	return func(o *Options) { o.NCommitters = n }
}

// WithLogger sets the zerolog.Logger used for structured logging. If
// unset, a disabled logger is used (no output).
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetricsRegisterer sets the prometheus.Registerer metrics are
// registered against. If unset, metrics are registered against
// prometheus.DefaultRegisterer.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) { o.MetricsRegisterer = r }
}

func defaultOptions() Options {
	return Options{
		Logger:            zerolog.Nop(),
		MetricsRegisterer: prometheus.DefaultRegisterer,
	}
}
