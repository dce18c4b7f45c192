package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Recorder implements ports.UpdatePublisher in memory: it keeps every
// published update per thread. Safe for concurrent use.
type Recorder struct {
	data map[string][]domain.Update
	mu   sync.RWMutex
}

// NewRecorder creates a new in-memory recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		data: make(map[string][]domain.Update),
	}
}

// Publish records u for thread.
func (r *Recorder) Publish(ctx context.Context, thread string, u domain.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[thread] = append(r.data[thread], u)
	return nil
}

// Updates returns a copy of the updates recorded for thread, in publish order.
func (r *Recorder) Updates(thread string) []domain.Update {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.data[thread])
}

// Len returns the number of updates recorded for thread.
func (r *Recorder) Len(thread string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data[thread])
}

// Delete forgets thread.
func (r *Recorder) Delete(thread string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, thread)
}

// Threads returns the threads that published, sorted.
func (r *Recorder) Threads() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	threads := make([]string, 0, len(r.data))
	for id := range r.data {
		threads = append(threads, id)
	}
	slices.Sort(threads)
	return threads
}
