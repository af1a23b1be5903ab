package kafka

import (
	"github.com/go-kit/kit/log"
	"github.com/rcrowley/go-metrics"
)

// KeyValueLogger is satisfied by go-kit loggers.
type KeyValueLogger interface {
	Log(keyVals ...interface{}) error
}

type Options struct {
	Client    Client
	Logger    KeyValueLogger
	Registry  metrics.Registry
	StopAtEOF bool
}

type Option func(o *Options)

// WithClient selects the native client driver. Sessions use the sarama
// driver when none is given.
func WithClient(client Client) Option {
	return func(o *Options) {
		o.Client = client
	}
}

func WithLogger(logger KeyValueLogger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithRegistry sets the registry session counters are kept in. Counters are
// named <role>.<topic>.<event>, so sessions of the same role on one topic
// share them.
func WithRegistry(registry metrics.Registry) Option {
	return func(o *Options) {
		o.Registry = registry
	}
}

// WithStopAtEOF makes Consume return once the partition end is reached
// instead of waiting for new messages.
func WithStopAtEOF() Option {
	return func(o *Options) {
		o.StopAtEOF = true
	}
}

func newOptions(opts []Option) Options {
	options := Options{
		Logger:   log.NewNopLogger(),
		Registry: metrics.NewRegistry(),
	}
	for _, o := range opts {
		o(&options)
	}

	if options.Client == nil {
		cfg := NewConfig()
		cfg.MetricRegistry = options.Registry
		options.Client = &kafkaClient{
			config: cfg,
			logger: options.Logger,
		}
	}

	return options
}
