package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/ports"
	"github.com/aretw0/calltrace/pkg/trace"
)

// entry is one registered thread and the goroutines serving it.
type entry struct {
	thread *trace.Thread
	mux    *trace.Multiplexer
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// producerLock holds the mutex and the reference count.
type producerLock struct {
	mu   sync.Mutex
	refs int
}

// Manager owns named threads. Each thread gets a multiplexer serving its
// observers, and optionally a forwarder to an UpdatePublisher. Histories are
// independent: nothing is shared between threads.
type Manager struct {
	mu      sync.RWMutex
	threads map[string]*entry
	closed  bool

	locksMu sync.Mutex
	locks   map[string]*producerLock

	publisher ports.UpdatePublisher
	traceOpts []trace.Option
	hooks     domain.TraceHooks
	logger    *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithPublisher forwards every update of every thread to p.
func WithPublisher(p ports.UpdatePublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithTraceOptions applies opts to every thread and multiplexer created.
func WithTraceOptions(opts ...trace.Option) Option {
	return func(m *Manager) {
		m.traceOpts = append(m.traceOpts, opts...)
	}
}

// WithHooks registers observability hooks on every thread and multiplexer.
func WithHooks(hooks domain.TraceHooks) Option {
	return func(m *Manager) {
		m.hooks = m.hooks.Merge(hooks)
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty thread registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		threads: make(map[string]*entry),
		locks:   make(map[string]*producerLock),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) options(id string) []trace.Option {
	opts := []trace.Option{trace.WithLogger(m.logger), trace.WithHooks(m.hooks)}
	opts = append(opts, m.traceOpts...)
	return append(opts, trace.WithName(id))
}

// Create registers a new thread and starts serving it.
func (m *Manager) Create(id string) (*trace.Thread, error) {
	if id == "" {
		return nil, fmt.Errorf("thread id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, domain.ErrTracerClosed
	}
	if _, exists := m.threads[id]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadExists, id)
	}

	opts := m.options(id)
	th := trace.NewThread(opts...)
	e := &entry{
		thread: th,
		mux:    trace.NewMultiplexer(th, opts...),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mux.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("Multiplexer stopped", "thread", id, "err", err)
		}
	}()

	if m.publisher != nil {
		// Attached before returning so no update of the new thread is missed.
		l := th.Feed().Listen()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			m.forward(ctx, id, th, l)
		}()
	}

	m.threads[id] = e
	m.logger.Debug("Thread created", "thread", id)
	return th, nil
}

// forward publishes the raw feed of th until the thread is closed.
func (m *Manager) forward(ctx context.Context, id string, th *trace.Thread, l *trace.Listener) {
	for {
		for u := range l.C() {
			if err := m.publisher.Publish(ctx, id, u); err != nil {
				m.logger.Warn("Failed to publish update", "thread", id, "seq", u.Seq, "err", err)
			}
		}

		err := l.Err()
		if !errors.Is(err, domain.ErrStreamInterrupted) {
			return
		}
		m.logger.Warn("Publisher fell behind, updates were skipped", "thread", id, "err", err)
		l = th.Feed().Listen()
	}
}

// Get returns a registered thread.
func (m *Manager) Get(id string) (*trace.Thread, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.thread, nil
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, id)
	}
	return e, nil
}

// GetOrCreate returns the thread named id, creating it if needed.
func (m *Manager) GetOrCreate(id string) (*trace.Thread, error) {
	th, err := m.Get(id)
	if err == nil {
		return th, nil
	}
	th, err = m.Create(id)
	if errors.Is(err, domain.ErrThreadExists) {
		return m.Get(id)
	}
	return th, err
}

// Delete closes a thread, ending its observers' streams with
// domain.ErrTracerClosed, and forgets it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.threads[id]
	if ok {
		delete(m.threads, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrThreadNotFound, id)
	}

	m.shutdown(e)
	m.logger.Debug("Thread deleted", "thread", id)
	return nil
}

func (m *Manager) shutdown(e *entry) {
	e.thread.Close()
	e.cancel()
	e.wg.Wait()
}

// List returns the registered thread ids, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RunState answers a point query on thread id.
func (m *Manager) RunState(id string, stack domain.CallStack) (domain.RunState, error) {
	th, err := m.Get(id)
	if err != nil {
		return domain.RunState{}, err
	}
	return th.RunState(stack), nil
}

// Snapshot copies the live stack and history of thread id.
func (m *Manager) Snapshot(id string) (domain.Snapshot, error) {
	th, err := m.Get(id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return th.Snapshot(), nil
}

// Subscribe attaches an observer to thread id. See trace.Multiplexer.Subscribe.
func (m *Manager) Subscribe(ctx context.Context, id string, opens <-chan domain.CallStack) (*trace.Subscription, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.mux.Subscribe(ctx, opens)
}

// Subscribers returns the number of observers of thread id.
func (m *Manager) Subscribers(id string) (int, error) {
	e, err := m.get(id)
	if err != nil {
		return 0, err
	}
	return e.mux.Subscribers(), nil
}

// Produce runs fn as the producer of thread id. Calls for the same thread are
// serialized so the thread only ever sees one producer at a time.
func (m *Manager) Produce(ctx context.Context, id string, fn func(context.Context, ports.Tracer) error) error {
	th, err := m.Get(id)
	if err != nil {
		return err
	}

	lock := m.acquire(id)
	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()
		m.release(id)
	}()

	return fn(ctx, th)
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *producerLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, exists := m.locks[id]
	if !exists {
		lock = &producerLock{}
		m.locks[id] = lock
	}
	lock.refs++
	return lock
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, exists := m.locks[id]
	if !exists {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(m.locks, id)
	}
}

// Close deletes every thread. Create fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.threads))
	for id, e := range m.threads {
		entries = append(entries, e)
		delete(m.threads, id)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.shutdown(e)
	}
	m.logger.Debug("Thread manager closed", "threads", len(entries))
}
