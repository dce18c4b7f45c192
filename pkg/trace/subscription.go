package trace

import (
	"sync"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Subscription is one observer's filtered view of a thread.
type Subscription struct {
	id      string
	updates chan domain.Update
	done    chan struct{}

	mu       sync.Mutex
	err      error
	finished bool
}

func newSubscription(id string, buffer int) *Subscription {
	return &Subscription{
		id:      id,
		updates: make(chan domain.Update, buffer),
		done:    make(chan struct{}),
	}
}

// ID uniquely identifies the subscription within its multiplexer.
func (s *Subscription) ID() string {
	return s.id
}

// Updates delivers backfill and live updates for the nodes opened so far.
// It is closed when the subscription ends; check Err afterwards.
func (s *Subscription) Updates() <-chan domain.Update {
	return s.updates
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil for a normal close (the open-node input ended or its context was
// cancelled). An interrupted stream wraps domain.ErrStreamInterrupted and a
// shut-down multiplexer returns domain.ErrTracerClosed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish is only called from the multiplexer goroutine, which is also the
// only sender on s.updates.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.updates)
	close(s.done)
}
