package http

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aretw0/calltrace/pkg/domain"
)

// ErrSubscriptionNotFound is returned when opening a node for a stream that
// is not connected (or belongs to another thread).
var ErrSubscriptionNotFound = errors.New("subscription not found")

// stream is one connected SSE observer.
type stream struct {
	thread string
	opens  chan<- domain.CallStack
	done   chan struct{}
}

// StreamManager handles active SSE connections, so that nodes can be opened
// for a stream from a separate request.
type StreamManager struct {
	mu      sync.RWMutex
	streams map[string]*stream // SubscriptionID -> stream
	logger  *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		streams: make(map[string]*stream),
		logger:  logger,
	}
}

// Register makes a connected stream addressable. The returned func
// unregisters it; Open calls blocked on the stream return at that point.
func (sm *StreamManager) Register(id, thread string, opens chan<- domain.CallStack) func() {
	s := &stream{thread: thread, opens: opens, done: make(chan struct{})}

	sm.mu.Lock()
	sm.streams[id] = s
	sm.mu.Unlock()

	return func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if cur, ok := sm.streams[id]; ok && cur == s {
			delete(sm.streams, id)
			close(s.done)
		}
	}
}

// Open forwards an open-node request to the stream with the given id.
func (sm *StreamManager) Open(ctx context.Context, thread, id string, node domain.CallStack) error {
	sm.mu.RLock()
	s, ok := sm.streams[id]
	sm.mu.RUnlock()

	if !ok || s.thread != thread {
		return ErrSubscriptionNotFound
	}

	sm.logger.Debug("StreamManager: Opening node", "thread", thread, "subscription_id", id, "stack", node.String())

	select {
	case s.opens <- node:
		return nil
	case <-s.done:
		return ErrSubscriptionNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of connected streams.
func (sm *StreamManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.streams)
}
