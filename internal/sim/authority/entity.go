package authority

import (
	"time"

	"github.com/google/uuid"
)

// Entity kinds.
const (
	KindPlayer = "PLAYER"
	KindItem   = "ITEM"
	KindDoor   = "DOOR"
	KindClock  = "CLOCK"
)

// Replicated field names.
const (
	FieldName      = "name"
	FieldPos       = "pos"
	FieldFaith     = "faith"
	FieldFaithMax  = "faith_max"
	FieldHealth    = "health"
	FieldHealthMax = "health_max"
	FieldInventory = "inventory"
	FieldItemID    = "item_id"
	FieldAvailable = "available"
	FieldOpen      = "open"
	FieldHour      = "hour"
	FieldMinute    = "minute"
	FieldIsPM      = "is_pm"
)

// Entity lifecycle. Absence from the store is the unregistered state;
// destroyed is terminal and fields stay frozen at their last value.
type entityState int

const (
	stateActive entityState = iota + 1
	stateDestroyed
)

// Entity is one addressable owner of replicated state. All access is
// confined to the store's owner goroutine.
type Entity struct {
	ID      string
	Kind    string
	Fields  map[string]any
	Version uint64

	// Owner is the player id allowed to issue owner-gated commands.
	// Empty for world entities (items, doors, the clock).
	Owner string

	state entityState

	// readyAt holds per-attack cooldown expiry. Authority-side only,
	// never replicated.
	readyAt map[string]time.Time
}

func newEntity(kind string, fields map[string]any) *Entity {
	return &Entity{
		ID:      uuid.NewString(),
		Kind:    kind,
		Fields:  fields,
		state:   stateActive,
		readyAt: map[string]time.Time{},
	}
}

func (e *Entity) active() bool { return e != nil && e.state == stateActive }

// privateField reports whether a field is replicated only to the entity's
// owning observer (point-to-point) rather than broadcast.
func privateField(kind, field string) bool {
	return kind == KindPlayer && field == FieldInventory
}
