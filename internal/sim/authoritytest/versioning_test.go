package authoritytest

import (
	"testing"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/replica"
	"vigilkeep.gg/internal/sim/authority"
	"vigilkeep.gg/internal/sim/tuning"
)

func TestVersions_IncrementByOnePerDelta(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "keeper")
	p := h.DefaultPlayerID
	h.ClearWire()

	start := version(t, h, p)
	for i := 0; i < 3; i++ {
		if out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 10}); !out.OK {
			t.Fatalf("reduce %d rejected: %s", i, out.Code)
		}
	}

	ds := deltasFor(h.DeltasFor(p), p, authority.FieldFaith)
	if len(ds) != 3 {
		t.Fatalf("faith deltas: %d", len(ds))
	}
	for i, d := range ds {
		if d.Version != start+uint64(i)+1 {
			t.Fatalf("delta %d version: got %d want %d", i, d.Version, start+uint64(i)+1)
		}
	}
}

func TestVersions_MultiFieldCommandBumpsPerField(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "caster")
	victim := h.Join("victim")
	h.SetPos(victim, [3]float64{3, 0, 0})

	casterBefore := version(t, h, h.DefaultPlayerID)
	victimBefore := version(t, h, victim)

	out := h.Cmd(authority.KindCast, map[string]any{
		"attack": "LIGHTNING",
		"target": []float64{3, 0, 0},
	})
	if !out.OK {
		t.Fatalf("cast rejected: %s", out.Code)
	}

	// Each delta bumps its own entity's version by one.
	if got := version(t, h, h.DefaultPlayerID); got != casterBefore+1 {
		t.Fatalf("caster version: %d -> %d", casterBefore, got)
	}
	if got := version(t, h, victim); got != victimBefore+1 {
		t.Fatalf("victim version: %d -> %d", victimBefore, got)
	}
}

func TestAcks_RoutedToIssuerOnly(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "issuer")
	watcher := h.Join("watcher")
	h.ClearWire()

	out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 10})
	if !out.OK {
		t.Fatalf("reduce rejected: %s", out.Code)
	}

	acks := h.AcksFor(h.DefaultPlayerID)
	if len(acks) != 1 || !acks[0].OK || acks[0].AckFor != out.CmdID {
		t.Fatalf("issuer acks: %v", acks)
	}
	if acks := h.AcksFor(watcher); len(acks) != 0 {
		t.Fatalf("watcher received acks: %v", acks)
	}

	// Rejections carry the code back to the issuer too.
	h.ClearWire()
	out = h.Cmd(authority.KindFaithReduce, map[string]any{"amount": -1})
	if out.OK {
		t.Fatalf("bad reduce accepted")
	}
	acks = h.AcksFor(h.DefaultPlayerID)
	if len(acks) != 1 || acks[0].OK || acks[0].Code != protocol.ErrBadRequest {
		t.Fatalf("rejection acks: %v", acks)
	}
}

func TestResync_SnapshotMatchesLiveState(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "keeper")
	p := h.DefaultPlayerID

	for i := 0; i < 4; i++ {
		if out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 5}); !out.OK {
			t.Fatalf("reduce rejected: %s", out.Code)
		}
	}
	h.ClearWire()

	h.Resync(p, p)
	snaps := h.SnapshotsFor(p)
	if len(snaps) != 1 {
		t.Fatalf("snapshots: %d", len(snaps))
	}
	if snaps[0].Version != version(t, h, p) {
		t.Fatalf("snapshot version %d, live %d", snaps[0].Version, version(t, h, p))
	}
	if got := snaps[0].Fields[authority.FieldFaith]; got != float64(80) {
		t.Fatalf("snapshot faith: %v", got)
	}
}

func TestResync_DestroyedEntityAnswersDespawn(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "keeper")
	item := h.SeedItem("RELIC_CANDLE", [3]float64{2, 0, 0})
	if out := h.CmdOn(h.DefaultPlayerID, authority.KindPickup, map[string]any{"item": item}); !out.OK {
		t.Fatalf("pickup rejected: %s", out.Code)
	}
	h.ClearWire()

	h.Resync(h.DefaultPlayerID, item)
	despawns := h.DespawnsFor(h.DefaultPlayerID)
	if len(despawns) != 1 || despawns[0].EntityID != item {
		t.Fatalf("despawns: %v", despawns)
	}
}

// An observer cache fed from the wire converges with the authority after a
// simulated delta loss.
func TestResync_ObserverConvergesAfterLoss(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "keeper")
	p := h.DefaultPlayerID

	remote := replica.NewCache()
	jr := h.JoinResponse(p)
	for _, s := range jr.Snapshots {
		remote.ApplySnapshot(s)
	}

	// First delta reaches the observer, the second is lost.
	if out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 10}); !out.OK {
		t.Fatalf("reduce rejected: %s", out.Code)
	}
	ds := deltasFor(h.DeltasFor(p), p, authority.FieldFaith)
	if err := remote.ApplyDelta(ds[0]); err != nil {
		t.Fatalf("apply first delta: %v", err)
	}
	if out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 10}); !out.OK {
		t.Fatalf("reduce rejected: %s", out.Code)
	}

	// Third delta exposes the gap.
	h.ClearWire()
	if out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 10}); !out.OK {
		t.Fatalf("reduce rejected: %s", out.Code)
	}
	ds = deltasFor(h.DeltasFor(p), p, authority.FieldFaith)
	if err := remote.ApplyDelta(ds[0]); err == nil {
		t.Fatalf("gap not detected")
	}

	// Resync closes it.
	h.ClearWire()
	h.Resync(p, p)
	remote.ApplySnapshot(h.SnapshotsFor(p)[0])

	fields, ver, _ := remote.CurrentState(p)
	if fields[authority.FieldFaith] != float64(70) || ver != version(t, h, p) {
		t.Fatalf("observer state after resync: faith=%v v=%d", fields[authority.FieldFaith], ver)
	}
}
