package trace

import (
	"fmt"
	"sync"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Feed is the raw, unfiltered update stream of a Thread.
// Publishing never blocks: a listener whose buffer is full is detached and
// its channel closed with an error wrapping domain.ErrStreamInterrupted.
type Feed struct {
	mu        sync.Mutex
	listeners map[*Listener]struct{}
	capacity  int
	closed    bool
}

func newFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{
		listeners: make(map[*Listener]struct{}),
		capacity:  capacity,
	}
}

// Listener receives every update published after it was created.
type Listener struct {
	feed *Feed
	ch   chan domain.Update

	mu  sync.Mutex
	err error
}

// Listen attaches a new listener. On a closed feed the listener is returned
// already closed with domain.ErrTracerClosed.
func (f *Feed) Listen() *Listener {
	l := &Listener{
		feed: f,
		ch:   make(chan domain.Update, f.capacity),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		l.err = domain.ErrTracerClosed
		close(l.ch)
		return l
	}
	f.listeners[l] = struct{}{}
	return l
}

// Listeners returns the number of attached listeners.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *Feed) publish(u domain.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for l := range f.listeners {
		select {
		case l.ch <- u:
		default:
			f.detach(l, fmt.Errorf("%w: update feed overflowed at seq %d", domain.ErrStreamInterrupted, u.Seq))
		}
	}
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for l := range f.listeners {
		f.detach(l, domain.ErrTracerClosed)
	}
}

// detach must be called with f.mu held.
func (f *Feed) detach(l *Listener, err error) {
	if _, ok := f.listeners[l]; !ok {
		return
	}
	delete(f.listeners, l)

	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	close(l.ch)
}

// C is closed when the listener is detached; check Err afterwards.
func (l *Listener) C() <-chan domain.Update {
	return l.ch
}

// Err is nil while attached or after Close, and the detach reason otherwise.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close detaches the listener. Safe to call more than once.
func (l *Listener) Close() {
	l.feed.mu.Lock()
	defer l.feed.mu.Unlock()
	l.feed.detach(l, nil)
}
