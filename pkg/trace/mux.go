package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/google/uuid"
)

type eventKind int

const (
	eventAdd eventKind = iota
	eventOpen
	eventRemove
)

type muxEvent struct {
	kind   eventKind
	client *client
	stack  domain.CallStack
	// ack is closed once an add has been registered.
	ack chan struct{}
}

// client is the registry entry of one observer. It is owned by the
// multiplexer goroutine.
type client struct {
	sub *Subscription
	// open maps an open node's key to the sequence number of its backfill
	// snapshot. Live updates at or below that number are already reflected.
	open map[string]uint64
}

// Multiplexer fans one thread's update feed out to any number of observers,
// each filtered to the children of the nodes it opened.
//
// All registry mutations, backfills and deliveries happen on the goroutine
// running Run, which is the single ordering point between opens and updates.
type Multiplexer struct {
	thread *Thread
	events chan muxEvent
	done   chan struct{}

	clientBuffer int
	hooks        domain.TraceHooks
	logger       *slog.Logger

	running atomic.Bool
	active  atomic.Int64
	once    sync.Once
}

// NewMultiplexer creates a multiplexer for thread. Call Run to start it.
func NewMultiplexer(thread *Thread, opts ...Option) *Multiplexer {
	cfg := newConfig(opts)
	if cfg.name == "" && thread.Name() != "" {
		cfg.logger = cfg.logger.With("thread", thread.Name())
	}
	return &Multiplexer{
		thread:       thread,
		events:       make(chan muxEvent, 64),
		done:         make(chan struct{}),
		clientBuffer: cfg.clientBuffer,
		hooks:        cfg.hooks,
		logger:       cfg.logger,
	}
}

// Subscribers returns the number of active observers.
func (m *Multiplexer) Subscribers() int {
	return int(m.active.Load())
}

// Done is closed once Run has returned.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Subscribe registers an observer. Every stack received on opens is opened:
// the observer is sent the known state of its children, then live updates for
// them. The subscription ends when opens is closed or ctx is cancelled.
func (m *Multiplexer) Subscribe(ctx context.Context, opens <-chan domain.CallStack) (*Subscription, error) {
	c := &client{
		sub:  newSubscription(uuid.NewString(), m.clientBuffer),
		open: make(map[string]uint64),
	}

	ack := make(chan struct{})
	select {
	case m.events <- muxEvent{kind: eventAdd, client: c, ack: ack}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, domain.ErrTracerClosed
	}

	// An add still queued when Run returns is never registered.
	select {
	case <-ack:
	case <-m.done:
		return nil, domain.ErrTracerClosed
	}

	go m.forward(ctx, c, opens)
	return c.sub, nil
}

// forward relays one observer's open-node events into the event queue.
func (m *Multiplexer) forward(ctx context.Context, c *client, opens <-chan domain.CallStack) {
	remove := func() {
		select {
		case m.events <- muxEvent{kind: eventRemove, client: c}:
		case <-c.sub.done:
		case <-m.done:
		}
	}

	for {
		select {
		case <-ctx.Done():
			remove()
			return
		case <-c.sub.done:
			return
		case <-m.done:
			return
		case stack, ok := <-opens:
			if !ok {
				remove()
				return
			}
			select {
			case m.events <- muxEvent{kind: eventOpen, client: c, stack: stack}:
			case <-ctx.Done():
				remove()
				return
			case <-c.sub.done:
				return
			case <-m.done:
				return
			}
		}
	}
}

// Run serves subscriptions until ctx is cancelled or the thread is closed.
// Remaining observers are terminated with domain.ErrTracerClosed.
// Run may only be called once.
func (m *Multiplexer) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("multiplexer already running")
	}

	clients := make(map[string]*client)
	listener := m.thread.Feed().Listen()

	defer func() {
		listener.Close()
		for _, c := range clients {
			m.terminate(ctx, clients, c, domain.ErrTracerClosed)
		}
		m.once.Do(func() { close(m.done) })
	}()

	m.logger.Debug("Multiplexer started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Multiplexer stopping", "err", ctx.Err())
			return ctx.Err()

		case ev := <-m.events:
			switch ev.kind {
			case eventAdd:
				m.add(ctx, clients, ev.client)
				close(ev.ack)
			case eventOpen:
				m.open(ctx, clients, ev.client, ev.stack)
			case eventRemove:
				if _, ok := clients[ev.client.sub.id]; ok {
					m.terminate(ctx, clients, ev.client, nil)
				}
			}

		case u, ok := <-listener.C():
			if ok {
				m.dispatch(ctx, clients, u)
				continue
			}

			err := listener.Err()
			if err == nil || errors.Is(err, domain.ErrTracerClosed) {
				m.logger.Debug("Update feed closed")
				return nil
			}

			// Updates were lost: nobody's view can be trusted any more.
			m.logger.Warn("Update feed interrupted, dropping observers", "err", err, "observers", len(clients))
			for _, c := range clients {
				m.terminate(ctx, clients, c, err)
			}
			listener = m.thread.Feed().Listen()
		}
	}
}

func (m *Multiplexer) add(ctx context.Context, clients map[string]*client, c *client) {
	clients[c.sub.id] = c
	m.active.Add(1)
	m.logger.Debug("Observer subscribed", "subscription_id", c.sub.id)

	if m.hooks.OnSubscribe != nil {
		m.hooks.OnSubscribe(ctx, &domain.SubscriptionEvent{Thread: m.thread.Name(), SubscriptionID: c.sub.id})
	}
}

func (m *Multiplexer) open(ctx context.Context, clients map[string]*client, c *client, node domain.CallStack) {
	if _, ok := clients[c.sub.id]; !ok {
		return
	}
	if !node.IsNode() {
		m.logger.Warn("Ignoring open of a non-node stack", "subscription_id", c.sub.id, "stack", node.String())
		return
	}

	updates, seq := m.thread.Backfill(node)
	for _, u := range updates {
		if !m.deliver(ctx, clients, c, u) {
			return
		}
	}
	c.open[node.Key()] = seq

	m.logger.Debug("Node opened", "subscription_id", c.sub.id, "stack", node.String(), "backfill", len(updates), "seq", seq)
	if m.hooks.OnBackfill != nil {
		m.hooks.OnBackfill(ctx, &domain.SubscriptionEvent{Thread: m.thread.Name(), SubscriptionID: c.sub.id}, len(updates))
	}
}

// dispatch forwards u to every observer that opened its parent after the
// snapshot u is newer than.
func (m *Multiplexer) dispatch(ctx context.Context, clients map[string]*client, u domain.Update) {
	parent, ok := u.Stack.Parent()
	if !ok {
		return
	}
	key := parent.Key()

	for _, c := range clients {
		openedAt, ok := c.open[key]
		if !ok || u.Seq <= openedAt {
			continue
		}
		m.deliver(ctx, clients, c, u)
	}
}

// deliver never blocks. An observer with a full buffer is terminated.
func (m *Multiplexer) deliver(ctx context.Context, clients map[string]*client, c *client, u domain.Update) bool {
	select {
	case c.sub.updates <- u:
		return true
	default:
		m.terminate(ctx, clients, c, fmt.Errorf("%w: observer fell behind at seq %d", domain.ErrStreamInterrupted, u.Seq))
		return false
	}
}

func (m *Multiplexer) terminate(ctx context.Context, clients map[string]*client, c *client, err error) {
	delete(clients, c.sub.id)
	m.active.Add(-1)
	c.sub.finish(err)

	if err != nil {
		m.logger.Warn("Observer stream terminated", "subscription_id", c.sub.id, "err", err)
	} else {
		m.logger.Debug("Observer unsubscribed", "subscription_id", c.sub.id)
	}

	if m.hooks.OnUnsubscribe != nil {
		m.hooks.OnUnsubscribe(ctx, &domain.SubscriptionEvent{Thread: m.thread.Name(), SubscriptionID: c.sub.id, Err: err})
	}
}
