package replica_test

import (
	"errors"
	"testing"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/replica"
)

func snap(id, kind string, fields map[string]any, version uint64) protocol.SnapshotMsg {
	return protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		EntityID:        id,
		EntityKind:      kind,
		Fields:          fields,
		Version:         version,
	}
}

func delta(id, field string, old, new any, version uint64) protocol.DeltaMsg {
	return protocol.DeltaMsg{
		Type:            protocol.TypeDelta,
		ProtocolVersion: protocol.Version,
		EntityID:        id,
		Field:           field,
		Old:             old,
		New:             new,
		Version:         version,
	}
}

func TestApplyDeltaInOrder(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(100)}, 3))

	if err := c.ApplyDelta(delta("p-1", "faith", float64(100), float64(90), 4)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	fields, version, ok := c.CurrentState("p-1")
	if !ok {
		t.Fatalf("entity missing")
	}
	if version != 4 {
		t.Fatalf("version = %d", version)
	}
	if fields["faith"] != float64(90) {
		t.Fatalf("faith = %v", fields["faith"])
	}
}

func TestApplyDeltaIdempotent(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(100)}, 3))

	d := delta("p-1", "faith", float64(100), float64(90), 4)
	if err := c.ApplyDelta(d); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Re-delivery of an already-applied delta is a silent no-op.
	if err := c.ApplyDelta(d); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	// So is anything older.
	if err := c.ApplyDelta(delta("p-1", "faith", float64(110), float64(100), 3)); err != nil {
		t.Fatalf("stale apply: %v", err)
	}
	if v, _ := c.Version("p-1"); v != 4 {
		t.Fatalf("version = %d", v)
	}
	fields, _, _ := c.CurrentState("p-1")
	if fields["faith"] != float64(90) {
		t.Fatalf("faith = %v", fields["faith"])
	}
}

func TestApplyDeltaVersionGap(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(100)}, 3))

	err := c.ApplyDelta(delta("p-1", "faith", float64(90), float64(80), 6))
	if !errors.Is(err, replica.ErrVersionGap) {
		t.Fatalf("err = %v, want version gap", err)
	}
	var gap *replica.VersionGapError
	if !errors.As(err, &gap) {
		t.Fatalf("err type = %T", err)
	}
	if gap.Have != 3 || gap.Got != 6 {
		t.Fatalf("gap = %+v", gap)
	}
	// State untouched until a snapshot arrives.
	if v, _ := c.Version("p-1"); v != 3 {
		t.Fatalf("version moved to %d on gap", v)
	}

	// Delta for an entity never seen is also a gap, not a spawn.
	err = c.ApplyDelta(delta("ghost", "faith", nil, float64(1), 1))
	if !errors.Is(err, replica.ErrVersionGap) {
		t.Fatalf("unknown entity err = %v", err)
	}
}

func TestSnapshotResolvesGap(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(100)}, 3))

	if err := c.ApplyDelta(delta("p-1", "faith", float64(90), float64(80), 6)); err == nil {
		t.Fatalf("expected gap")
	}
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(80)}, 6))

	if err := c.ApplyDelta(delta("p-1", "faith", float64(80), float64(70), 7)); err != nil {
		t.Fatalf("apply after resync: %v", err)
	}
	fields, version, _ := c.CurrentState("p-1")
	if version != 7 || fields["faith"] != float64(70) {
		t.Fatalf("state = %v v%d", fields, version)
	}
}

func TestDestroyFreezesEntity(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("i-1", "ITEM", map[string]any{"available": true}, 2))

	c.Destroy("i-1")
	if !c.Destroyed("i-1") {
		t.Fatalf("not destroyed")
	}
	// Late deltas for a destroyed entity are dropped without error.
	if err := c.ApplyDelta(delta("i-1", "available", true, false, 3)); err != nil {
		t.Fatalf("post-destroy delta: %v", err)
	}
	fields, version, _ := c.CurrentState("i-1")
	if version != 2 || fields["available"] != true {
		t.Fatalf("destroyed entity mutated: %v v%d", fields, version)
	}
}

func TestMarkStaleUntilSnapshot(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(100)}, 3))
	c.MarkStale("p-1")

	err := c.ApplyDelta(delta("p-1", "faith", float64(100), float64(90), 4))
	if !errors.Is(err, replica.ErrVersionGap) {
		t.Fatalf("stale entity accepted delta: %v", err)
	}

	// A snapshot clears staleness.
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(90)}, 4))
	if err := c.ApplyDelta(delta("p-1", "faith", float64(90), float64(80), 5)); err != nil {
		t.Fatalf("apply after snapshot: %v", err)
	}
}

func TestCurrentStateIsACopy(t *testing.T) {
	c := replica.NewCache()
	c.ApplySnapshot(snap("p-1", "PLAYER", map[string]any{"faith": float64(100)}, 1))

	fields, _, _ := c.CurrentState("p-1")
	fields["faith"] = float64(-1)

	again, _, _ := c.CurrentState("p-1")
	if again["faith"] != float64(100) {
		t.Fatalf("caller mutation leaked into cache: %v", again["faith"])
	}
}
