package store

import (
	"sync"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/metrics"
)

type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeRemove ChangeOp = "remove"
	ChangeClear  ChangeOp = "clear"
)

// Change describes one registry write. ID is empty for ChangeClear.
type Change struct {
	Op ChangeOp
	ID string
}

// Registry is the id -> Activity cache. Entries go in and come out as clones,
// so callers never share attendee or comment slices with the cache.
type Registry struct {
	mu    sync.RWMutex
	items map[string]domain.Activity
	gen   uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func NewRegistry() *Registry {
	return &Registry{
		items: make(map[string]domain.Activity),
		subs:  make(map[int]func(Change)),
	}
}

// Upsert replaces the entry for a.ID wholesale.
func (r *Registry) Upsert(a domain.Activity) {
	r.mu.Lock()
	r.items[a.ID] = a.Clone()
	n := len(r.items)
	r.mu.Unlock()

	metrics.RegistrySize.Set(float64(n))
	r.emit(Change{Op: ChangeUpsert, ID: a.ID})
}

// UpsertAt writes acts only if no Clear happened since gen was read.
// It reports whether the write was applied.
func (r *Registry) UpsertAt(gen uint64, acts ...domain.Activity) bool {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return false
	}
	for _, a := range acts {
		r.items[a.ID] = a.Clone()
	}
	n := len(r.items)
	r.mu.Unlock()

	metrics.RegistrySize.Set(float64(n))
	for _, a := range acts {
		r.emit(Change{Op: ChangeUpsert, ID: a.ID})
	}
	return true
}

// Remove deletes id. Missing ids are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.items[id]
	delete(r.items, id)
	n := len(r.items)
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.RegistrySize.Set(float64(n))
	r.emit(Change{Op: ChangeRemove, ID: id})
}

func (r *Registry) Get(id string) (domain.Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return domain.Activity{}, false
	}
	return a.Clone(), true
}

// Clear empties the registry and bumps the generation, invalidating any
// UpsertAt still holding the old one.
func (r *Registry) Clear() {
	r.reset()()
}

// reset empties the registry and bumps the generation but defers the change
// notification to the returned func, so callers holding their own lock can
// fire it after releasing that lock.
func (r *Registry) reset() (notify func()) {
	r.mu.Lock()
	r.items = make(map[string]domain.Activity)
	r.gen++
	r.mu.Unlock()

	metrics.RegistrySize.Set(0)
	return func() { r.emit(Change{Op: ChangeClear}) }
}

// Values returns an unordered snapshot.
func (r *Registry) Values() []domain.Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Activity, 0, len(r.items))
	for _, a := range r.items {
		out = append(out, a.Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Update applies fn to the entry for id under the write lock. fn reports
// whether it changed anything; Update returns false when id is missing or fn
// made no change.
func (r *Registry) Update(id string, fn func(*domain.Activity) bool) bool {
	r.mu.Lock()
	a, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	a = a.Clone()
	changed := fn(&a)
	if changed {
		r.items[id] = a
	}
	r.mu.Unlock()

	if changed {
		r.emit(Change{Op: ChangeUpsert, ID: id})
	}
	return changed
}

// UpdateAll applies fn to every entry and returns the ids it changed.
func (r *Registry) UpdateAll(fn func(*domain.Activity) bool) []string {
	r.mu.Lock()
	var changed []string
	for id, a := range r.items {
		a = a.Clone()
		if fn(&a) {
			r.items[id] = a
			changed = append(changed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range changed {
		r.emit(Change{Op: ChangeUpsert, ID: id})
	}
	return changed
}

// Subscribe registers fn for every subsequent change. Callbacks run on the
// writer's goroutine after the registry lock is released.
func (r *Registry) Subscribe(fn func(Change)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) emit(c Change) {
	r.subMu.Lock()
	fns := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
