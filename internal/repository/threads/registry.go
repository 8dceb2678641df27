package threads

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragdex/internal/domain"
)

// Registry is the in-process thread store. Threads live for the lifetime of
// the process; a restart starts with an empty registry.
type Registry struct {
	mu      sync.RWMutex
	threads map[string]*domain.Thread
	now     func() time.Time
}

// New creates an empty thread registry.
func New() *Registry {
	return &Registry{
		threads: make(map[string]*domain.Thread),
		now:     time.Now,
	}
}

// Create registers a new thread with the given title and returns a copy.
func (r *Registry) Create(title string) domain.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyThread(r.createLocked("", title))
}

// EnsureAppend appends msg to a thread, creating the thread first when it
// does not exist. An empty id gets a generated one; title applies only at
// creation. Creation and append share one lock, so the thread is never
// observable without messages and cannot be pruned before its first message
// lands.
func (r *Registry) EnsureAppend(id, title string, msg domain.Message) domain.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok {
		t = r.createLocked(id, title)
	}
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = r.now()
	return copyThread(t)
}

// Get returns a copy of a thread including its messages.
func (r *Registry) Get(id string) (domain.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[id]
	if !ok {
		return domain.Thread{}, domain.ErrThreadNotFound
	}
	return copyThread(t), nil
}

// List returns copies of all threads, most recently updated first.
func (r *Registry) List() []domain.Thread {
	r.mu.RLock()
	out := make([]domain.Thread, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, copyThread(t))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes a thread.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[id]; !ok {
		return domain.ErrThreadNotFound
	}
	delete(r.threads, id)
	return nil
}

// Append adds a message to a thread and touches its UpdatedAt.
func (r *Registry) Append(id string, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok {
		return domain.ErrThreadNotFound
	}
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = r.now()
	return nil
}

// AppendContent appends a fragment to the content of the thread's last
// message. Used to mirror a streamed answer into the transcript as it is
// produced.
func (r *Registry) AppendContent(id, fragment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok {
		return domain.ErrThreadNotFound
	}
	if len(t.Messages) == 0 {
		return domain.ErrThreadNotFound
	}
	t.Messages[len(t.Messages)-1].Content += fragment
	t.UpdatedAt = r.now()
	return nil
}

// SetResponseTime records the generation latency on the thread's last message.
func (r *Registry) SetResponseTime(id string, seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok {
		return domain.ErrThreadNotFound
	}
	if len(t.Messages) == 0 {
		return domain.ErrThreadNotFound
	}
	t.Messages[len(t.Messages)-1].ResponseTime = seconds
	return nil
}

// PruneEmpty removes threads that never received a message. Returns the
// number of threads removed.
func (r *Registry) PruneEmpty() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneEmptyLocked()
}

// PruneEmptyAndCreate prunes message-less threads and registers a new one
// under a single lock, so a racing create cannot prune the thread between
// the two steps. Returns the new thread and the prune count.
func (r *Registry) PruneEmptyAndCreate(title string) (domain.Thread, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := r.pruneEmptyLocked()
	return copyThread(r.createLocked("", title)), pruned
}

func (r *Registry) createLocked(id, title string) *domain.Thread {
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	t := &domain.Thread{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.threads[id] = t
	return t
}

func (r *Registry) pruneEmptyLocked() int {
	var pruned int
	for id, t := range r.threads {
		if len(t.Messages) == 0 {
			delete(r.threads, id)
			pruned++
		}
	}
	return pruned
}

func copyThread(t *domain.Thread) domain.Thread {
	out := *t
	out.Messages = make([]domain.Message, len(t.Messages))
	copy(out.Messages, t.Messages)
	return out
}
