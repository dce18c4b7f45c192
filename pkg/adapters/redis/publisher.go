package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key and channel.
const DefaultPrefix = "calltrace:"

type config struct {
	prefix string
	logger *slog.Logger
}

func newConfig(opts []Option) config {
	cfg := config{prefix: DefaultPrefix, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a Publisher or a Listener.
type Option func(*config)

// WithPrefix sets the key prefix for channels and the thread index.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
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

func channel(prefix, thread string) string {
	return prefix + "thread:" + thread + ":updates"
}

// Publisher implements ports.UpdatePublisher using Redis pub/sub.
// Every thread that published is recorded in a sorted set scored by the time
// of its last update.
type Publisher struct {
	client *backend.Client
	prefix string
	logger *slog.Logger
}

// New creates a Publisher with its own client.
func New(address, password string, db int, opts ...Option) *Publisher {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Publisher from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Publisher {
	cfg := newConfig(opts)
	return &Publisher{client: client, prefix: cfg.prefix, logger: cfg.logger}
}

func (p *Publisher) indexKey() string {
	return p.prefix + "threads"
}

// Publish sends u to the thread's update channel.
func (p *Publisher) Publish(ctx context.Context, thread string, u domain.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, channel(p.prefix, thread), data)
	pipe.ZAdd(ctx, p.indexKey(), backend.Z{
		Score:  float64(time.Now().Unix()),
		Member: thread,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Debug("Redis pipeline failed", "thread", thread, "seq", u.Seq, "err", err)
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Threads returns the threads that have published, most recent first.
func (p *Publisher) Threads(ctx context.Context) ([]string, error) {
	threads, err := p.client.ZRevRange(ctx, p.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

// Forget removes thread from the index.
func (p *Publisher) Forget(ctx context.Context, thread string) error {
	return p.client.ZRem(ctx, p.indexKey(), thread).Err()
}

// Close closes the redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
