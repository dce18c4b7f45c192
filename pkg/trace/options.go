package trace

import (
	"log/slog"

	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/domain"
)

const (
	// DefaultFeedCapacity is the per-listener buffer of the raw update feed.
	DefaultFeedCapacity = 1000
	// DefaultClientBuffer is the per-observer buffer of a subscription.
	DefaultClientBuffer = 1000
)

type config struct {
	name         string
	logger       *slog.Logger
	hooks        domain.TraceHooks
	feedCapacity int
	clientBuffer int
	compaction   bool
}

func newConfig(opts []Option) config {
	cfg := config{
		logger:       logging.NewNop(),
		feedCapacity: DefaultFeedCapacity,
		clientBuffer: DefaultClientBuffer,
		compaction:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name != "" {
		cfg.logger = cfg.logger.With("thread", cfg.name)
	}
	return cfg
}

// Option configures a Thread or a Multiplexer.
type Option func(*config)

// WithName labels the thread in logs and hook events.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.TraceHooks) Option {
	return func(c *config) {
		c.hooks = hooks
	}
}

// WithFeedCapacity sets the buffer of each raw feed listener.
func WithFeedCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.feedCapacity = n
		}
	}
}

// WithClientBuffer sets the buffer of each observer stream.
func WithClientBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.clientBuffer = n
		}
	}
}

// WithCompaction toggles omission of history entries that repeat the state of
// their predecessor. Point queries and backfills answer the same either way;
// only Snapshot.History is shorter.
func WithCompaction(enabled bool) Option {
	return func(c *config) {
		c.compaction = enabled
	}
}
