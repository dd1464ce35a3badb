package replica

import (
	"log"
	"sort"
	"sync"
)

// FieldCallback observes one field change. On subscribe replay the current
// value is delivered with old == new.
type FieldCallback func(entityID, field string, old, new any)

// LifecycleEvent marks entity activation, destruction, or staleness.
type LifecycleEvent int

const (
	EntityActivated LifecycleEvent = iota + 1
	EntityDestroyed
	EntityStale
)

type LifecycleCallback func(entityID string, ev LifecycleEvent)

// Subscription is a weak registration; it controls delivery, never the
// entity's lifetime.
type Subscription struct {
	id       uint64
	entityID string
	r        *Registry
}

// Unsubscribe removes the registration. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.r == nil {
		return
	}
	s.r.unsubscribe(s)
}

// Registry fans cache changes out to local consumers. Construct via
// Cache.Registry; the cache is the only writer feeding it.
type Registry struct {
	cache *Cache

	mu        sync.Mutex
	nextID    uint64
	subs      map[string]map[uint64]FieldCallback
	lifecycle map[uint64]LifecycleCallback

	logger *log.Logger
}

func newRegistry(c *Cache) *Registry {
	return &Registry{
		cache:     c,
		subs:      map[string]map[uint64]FieldCallback{},
		lifecycle: map[uint64]LifecycleCallback{},
	}
}

// SetLogger attaches a diagnostic logger (may stay nil).
func (r *Registry) SetLogger(l *log.Logger) { r.logger = l }

// Subscribe registers interest in one entity. If the cache already holds
// state for it, the current value of every field is replayed synchronously
// before Subscribe returns, so late subscribers never miss the latest state.
func (r *Registry) Subscribe(entityID string, cb FieldCallback) *Subscription {
	r.mu.Lock()
	r.nextID++
	sub := &Subscription{id: r.nextID, entityID: entityID, r: r}
	m := r.subs[entityID]
	if m == nil {
		m = map[uint64]FieldCallback{}
		r.subs[entityID] = m
	}
	m[sub.id] = cb
	r.mu.Unlock()

	if fields, _, ok := r.cache.CurrentState(entityID); ok {
		for _, f := range sortedFields(fields) {
			v := fields[f]
			r.invoke(cb, entityID, f, v, v)
		}
	}
	return sub
}

// SubscribeLifecycle registers for activation/destruction/stale events
// across all entities.
func (r *Registry) SubscribeLifecycle(cb LifecycleCallback) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := &Subscription{id: r.nextID, r: r}
	r.lifecycle[sub.id] = cb
	return sub
}

func (r *Registry) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.entityID != "" {
		if m := r.subs[sub.entityID]; m != nil {
			delete(m, sub.id)
			if len(m) == 0 {
				delete(r.subs, sub.entityID)
			}
		}
		return
	}
	delete(r.lifecycle, sub.id)
}

func (r *Registry) notifyField(entityID, field string, old, new any) {
	r.mu.Lock()
	cbs := make([]FieldCallback, 0, len(r.subs[entityID]))
	ids := make([]uint64, 0, len(r.subs[entityID]))
	for id := range r.subs[entityID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		cbs = append(cbs, r.subs[entityID][id])
	}
	r.mu.Unlock()

	if len(cbs) == 0 {
		if r.logger != nil {
			r.logger.Printf("replica: no subscribers for %s.%s (cached)", entityID, field)
		}
		return
	}
	for _, cb := range cbs {
		r.invoke(cb, entityID, field, old, new)
	}
}

func (r *Registry) notifyLifecycle(entityID string, ev LifecycleEvent) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.lifecycle))
	for id := range r.lifecycle {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cbs := make([]LifecycleCallback, 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, r.lifecycle[id])
	}
	r.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer r.recoverSubscriber(entityID)
			cb(entityID, ev)
		}()
	}
}

// invoke isolates a panicking subscriber so the remaining callbacks still
// receive the notification.
func (r *Registry) invoke(cb FieldCallback, entityID, field string, old, new any) {
	defer r.recoverSubscriber(entityID)
	cb(entityID, field, old, new)
}

func (r *Registry) recoverSubscriber(entityID string) {
	if err := recover(); err != nil {
		if r.logger != nil {
			r.logger.Printf("replica: subscriber panic on %s: %v", entityID, err)
		}
	}
}

func sortedFields(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
