package tensorkv

import (
	"log/slog"

	"github.com/hupe1980/tensorkv/codec"
	"github.com/hupe1980/tensorkv/dist"
	"github.com/hupe1980/tensorkv/engine"
	"github.com/hupe1980/tensorkv/resource"
)

type options struct {
	numWorkers       int
	updater          engine.Updater
	transport        dist.Transport
	codec            codec.Codec
	resource         resource.Config
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Create behavior.
//
// Options primarily exist to avoid exploding the API surface
// (e.g. kind-specific constructor variants).
type Option func(*options)

// WithNumWorkers configures the size of the scheduler's worker pool, i.e.
// how many independent-key operations may execute concurrently.
//
// If numWorkers <= 0, GOMAXPROCS is used.
func WithNumWorkers(numWorkers int) Option {
	return func(o *options) {
		o.numWorkers = numWorkers
	}
}

// WithUpdater installs the update hook applied to each aggregation round.
// Equivalent to calling SetUpdater before the first push.
//
// If nil is passed, the default accumulate hook is used.
func WithUpdater(u Updater) Option {
	return func(o *options) {
		o.updater = u
	}
}

// WithTransport configures the transport connecting worker processes.
// Required for the dist_sync and dist_async kinds; ignored for local.
//
// Example with the in-process loopback:
//
//	transports := dist.NewLoopback(4)
//	kv, _ := tensorkv.Create(tensorkv.DistSync, tensorkv.WithTransport(transports[rank]))
func WithTransport(t dist.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithCodec configures the codec compressing tensor frames on the wire.
// Only distributed kinds put frames on the wire.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithResourceConfig bounds in-flight pull bytes and send throughput of a
// distributed store. Zero values mean unlimited.
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resource = cfg
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &tensorkv.BasicMetricsCollector{}
//	kv, _ := tensorkv.Create(tensorkv.Local, tensorkv.WithMetricsCollector(metrics))
//	// ... use kv ...
//	stats := metrics.GetStats()
//	fmt.Printf("Pushes: %d, Avg latency: %dns\n", stats.PushCount, stats.PushAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := tensorkv.NewJSONLogger(slog.LevelInfo)
//	kv, _ := tensorkv.Create(tensorkv.Local, tensorkv.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

type opOptions struct {
	priority int
}

// OpOption configures a single push or pull.
type OpOption func(*opOptions)

// WithPriority sets the scheduling priority of one operation. Lower values
// run earlier among ready operations on different keys; operations on the
// same key always keep submission order.
func WithPriority(priority int) OpOption {
	return func(o *opOptions) {
		o.priority = priority
	}
}

func applyOpOptions(optFns []OpOption) opOptions {
	var o opOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
