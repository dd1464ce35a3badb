package authoritytest

import (
	"context"
	"testing"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/sim/authority"
	"vigilkeep.gg/internal/sim/tuning"
)

// The host process observes through the store's local cache by direct
// call, never through the wire, so its subscribers fire synchronously
// inside the command that caused the change.
func TestLocalView_NotifiesSynchronously(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "host")
	p := h.DefaultPlayerID

	fired := false
	sub := h.Store.Local().Registry().Subscribe(p, func(_, field string, old, new any) {
		if field == authority.FieldFaith && !protocol.ValueEqual(old, new) {
			fired = true
		}
	})
	defer sub.Unsubscribe()

	out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 10})
	if !out.OK {
		t.Fatalf("reduce rejected: %s", out.Code)
	}
	if !fired {
		t.Fatalf("local subscriber did not fire with the command")
	}
}

// The local view holds full state, private fields included, since the
// authority may read anything it owns.
func TestLocalView_SeesPrivateFields(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "host")
	p := h.DefaultPlayerID
	item := h.SeedItem("RELIC_CANDLE", [3]float64{2, 0, 0})

	if out := h.CmdOn(p, authority.KindPickup, map[string]any{"item": item}); !out.OK {
		t.Fatalf("pickup rejected: %s", out.Code)
	}
	if inv := fieldStrings(t, h, p, authority.FieldInventory); len(inv) != 1 {
		t.Fatalf("local inventory: %v", inv)
	}
}

func TestLocalView_SnapshotServedWithoutTransport(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "host")
	p := h.DefaultPlayerID

	if out := h.Cmd(authority.KindFaithReduce, map[string]any{"amount": 25}); !out.OK {
		t.Fatalf("reduce rejected: %s", out.Code)
	}
	snap, err := h.Store.Snapshot(context.Background(), p)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Fields[authority.FieldFaith] != float64(75) {
		t.Fatalf("snapshot faith: %v", snap.Fields[authority.FieldFaith])
	}
	if snap.Version != version(t, h, p) {
		t.Fatalf("snapshot version %d, live %d", snap.Version, version(t, h, p))
	}
}
