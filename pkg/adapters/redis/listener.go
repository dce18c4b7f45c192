package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/calltrace/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Listener receives the updates a Publisher sends, from another process.
type Listener struct {
	client *backend.Client
	prefix string
	logger *slog.Logger
}

// NewListener creates a Listener from an existing client.
func NewListener(client *backend.Client, opts ...Option) *Listener {
	cfg := newConfig(opts)
	return &Listener{client: client, prefix: cfg.prefix, logger: cfg.logger}
}

// Stream is one thread's update channel as seen by a Listener.
type Stream struct {
	ch chan domain.Update

	mu  sync.Mutex
	err error
}

// C is closed when the stream ends; check Err afterwards.
func (s *Stream) C() <-chan domain.Update {
	return s.ch
}

// Err is nil when the stream ended with its context. When updates went
// missing it wraps domain.ErrStreamInterrupted.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Listen subscribes to thread's update channel. It returns once the
// subscription is confirmed; the stream ends when ctx is done.
//
// Redis pub/sub delivers at most once, so the stream checks that sequence
// numbers follow each other and ends with domain.ErrStreamInterrupted on a
// gap. Messages that cannot be decoded are lost updates too.
func (l *Listener) Listen(ctx context.Context, thread string) (*Stream, error) {
	name := channel(l.prefix, thread)
	ps := l.client.Subscribe(ctx, name)

	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	s := &Stream{ch: make(chan domain.Update)}
	go func() {
		defer ps.Close()
		s.finish(l.relay(ctx, name, ps.Channel(), s.ch))
	}()
	return s, nil
}

func (l *Listener) relay(ctx context.Context, name string, msgs <-chan *backend.Message, out chan<- domain.Update) error {
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%w: redis subscription to %s closed", domain.ErrStreamInterrupted, name)
			}
			var u domain.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				l.logger.Warn("Undecodable update", "channel", name, "err", err)
				return fmt.Errorf("%w: undecodable update after seq %d: %v", domain.ErrStreamInterrupted, last, err)
			}
			if last != 0 && u.Seq != last+1 {
				l.logger.Warn("Updates missing", "channel", name, "last", last, "seq", u.Seq)
				return fmt.Errorf("%w: seq jumped from %d to %d", domain.ErrStreamInterrupted, last, u.Seq)
			}
			last = u.Seq

			select {
			case out <- u:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
