// Package replica holds the observer side of the replication protocol: a
// read-only cache of authoritative entity state, updated exclusively by
// delta/snapshot application, and a subscription registry fanning changes
// out to local consumers.
package replica

import (
	"errors"
	"fmt"
	"sync"

	"vigilkeep.gg/internal/protocol"
)

// ErrVersionGap marks a delta that cannot be applied in order. The observer
// must request a snapshot instead of applying it.
var ErrVersionGap = errors.New("version gap")

type VersionGapError struct {
	EntityID string
	Have     uint64
	Got      uint64
}

func (e *VersionGapError) Error() string {
	return fmt.Sprintf("version gap on %s: have %d, got %d", e.EntityID, e.Have, e.Got)
}

func (e *VersionGapError) Is(target error) bool { return target == ErrVersionGap }

// Cache is an observer's local copy of replicated entities. Writes happen
// only through ApplyDelta/ApplySnapshot/Destroy; everything else is a read.
// Reads are safe from any goroutine.
type Cache struct {
	mu       sync.RWMutex
	entities map[string]*entityState
	reg      *Registry
}

type entityState struct {
	kind      string
	fields    map[string]any
	version   uint64
	destroyed bool
	stale     bool
}

func NewCache() *Cache {
	c := &Cache{entities: map[string]*entityState{}}
	c.reg = newRegistry(c)
	return c
}

// Registry returns the subscription registry fed by this cache.
func (c *Cache) Registry() *Registry { return c.reg }

// ApplyDelta applies one versioned field change.
//   - version <= current: no-op (idempotent re-delivery)
//   - version == current+1: update and notify
//   - anything else, or an entity we have never seen: VersionGapError
func (c *Cache) ApplyDelta(d protocol.DeltaMsg) error {
	c.mu.Lock()
	e, ok := c.entities[d.EntityID]
	if !ok {
		c.mu.Unlock()
		return &VersionGapError{EntityID: d.EntityID, Have: 0, Got: d.Version}
	}
	if e.destroyed || d.Version <= e.version {
		c.mu.Unlock()
		return nil
	}
	if e.stale || d.Version != e.version+1 {
		have := e.version
		c.mu.Unlock()
		return &VersionGapError{EntityID: d.EntityID, Have: have, Got: d.Version}
	}
	old := e.fields[d.Field]
	val := protocol.NormalizeValue(d.New)
	e.fields[d.Field] = val
	e.version = d.Version
	c.mu.Unlock()

	c.reg.notifyField(d.EntityID, d.Field, old, val)
	return nil
}

// ApplySnapshot resets the entity to exactly the snapshot contents,
// regardless of prior version, and clears any stale mark. Field
// notifications fire for values that differ from the previous cache state;
// a first snapshot also fires the activation lifecycle event.
func (c *Cache) ApplySnapshot(s protocol.SnapshotMsg) {
	c.mu.Lock()
	prev := c.entities[s.EntityID]
	next := &entityState{
		kind:    s.EntityKind,
		fields:  make(map[string]any, len(s.Fields)),
		version: s.Version,
	}
	for k, v := range s.Fields {
		next.fields[k] = protocol.NormalizeValue(v)
	}
	if prev != nil && next.kind == "" {
		next.kind = prev.kind
	}
	c.entities[s.EntityID] = next

	type change struct {
		field    string
		old, new any
	}
	var changes []change
	for _, f := range sortedFields(next.fields) {
		v := next.fields[f]
		if prev == nil {
			changes = append(changes, change{f, nil, v})
			continue
		}
		if old, had := prev.fields[f]; !had || !protocol.ValueEqual(old, v) {
			changes = append(changes, change{f, old, v})
		}
	}
	fresh := prev == nil
	c.mu.Unlock()

	if fresh {
		c.reg.notifyLifecycle(s.EntityID, EntityActivated)
	}
	for _, ch := range changes {
		c.reg.notifyField(s.EntityID, ch.field, ch.old, ch.new)
	}
}

// Destroy freezes the entity at its last value and fires the destroyed
// lifecycle event. Further deltas for the id are ignored.
func (c *Cache) Destroy(entityID string) {
	c.mu.Lock()
	e, ok := c.entities[entityID]
	if !ok || e.destroyed {
		c.mu.Unlock()
		return
	}
	e.destroyed = true
	c.mu.Unlock()

	c.reg.notifyLifecycle(entityID, EntityDestroyed)
}

// MarkStale records that resync for this entity has repeatedly failed.
// Consumers get a stale notification instead of further deltas; a later
// snapshot clears the mark.
func (c *Cache) MarkStale(entityID string) {
	c.mu.Lock()
	e, ok := c.entities[entityID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if e.stale {
		c.mu.Unlock()
		return
	}
	e.stale = true
	c.mu.Unlock()

	c.reg.notifyLifecycle(entityID, EntityStale)
}

// CurrentState returns a copy of the entity's fields and its version.
// Point-in-time read for consumers that do not subscribe.
func (c *Cache) CurrentState(entityID string) (map[string]any, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[entityID]
	if !ok {
		return nil, 0, false
	}
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out, e.version, true
}

// Version returns the entity's current cached version.
func (c *Cache) Version(entityID string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[entityID]
	if !ok {
		return 0, false
	}
	return e.version, true
}

// Destroyed reports whether the entity has reached its terminal state.
func (c *Cache) Destroyed(entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[entityID]
	return ok && e.destroyed
}
