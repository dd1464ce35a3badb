// Package authoritytest is a black-box test helper for driving an
// authority store through its exported API:
//   - Join() issues JoinRequest via StepOnce()
//   - Cmd()/CmdFor() issue commands via StepOnce() and return the Outcome
//   - per-session Out channels are drained into typed wire messages
//   - Seed*/SetPos helpers provide deterministic preconditions
//
// It intentionally avoids touching store internals so tests can live
// outside the authority package.
package authoritytest

import (
	"encoding/json"
	"testing"
	"time"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/sim/authority"
	"vigilkeep.gg/internal/sim/catalogs"
	"vigilkeep.gg/internal/sim/tuning"
)

type Harness struct {
	T     *testing.T
	Tune  tuning.Tuning
	Cats  *catalogs.Catalogs
	Store *authority.Store

	DefaultPlayerID string

	now      time.Time
	sessions map[string]*session // keyed by player id
}

type session struct {
	PlayerID  string
	SessionID string
	Out       chan []byte
	Join      authority.JoinResponse

	Deltas    []protocol.DeltaMsg
	Snapshots []protocol.SnapshotMsg
	Despawns  []protocol.DespawnMsg
	Acks      []protocol.AckMsg
}

// TestCatalogs is the fixed attack/item set scenario tests run against.
func TestCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Attacks: catalogs.AttackCatalog{ByID: map[string]catalogs.AttackDef{
			"LIGHTNING": {
				ID: "LIGHTNING", Name: "Lightning",
				Cost: 80, CooldownS: 1.5, Damage: 3,
				TargetType: catalogs.TargetPoint, MaxRangeM: 5, RadiusM: 1.5,
			},
			"SHIELD": {
				ID: "SHIELD", Name: "Shield",
				Cost: 10, CooldownS: 5,
				TargetType: catalogs.TargetSelf,
			},
		}},
		Items: catalogs.ItemCatalog{ByID: map[string]catalogs.ItemDef{
			"RELIC_CANDLE": {ID: "RELIC_CANDLE", Name: "Candle", Kind: "RELIC"},
			"TOOL_LANTERN": {ID: "TOOL_LANTERN", Name: "Lantern", Kind: "TOOL"},
		}},
	}
}

func NewHarness(t *testing.T, tune tuning.Tuning, cats *catalogs.Catalogs, playerName string) *Harness {
	t.Helper()

	s, err := authority.New(tune, cats, nil)
	if err != nil {
		t.Fatalf("authority.New: %v", err)
	}

	h := &Harness{
		T:        t,
		Tune:     tune,
		Cats:     cats,
		Store:    s,
		now:      time.Unix(1_700_000_000, 0),
		sessions: map[string]*session{},
	}
	s.SetNow(func() time.Time { return h.now })
	h.DefaultPlayerID = h.Join(playerName)
	return h
}

// Advance moves the injected authority clock forward. Cooldown tests drive
// time through this instead of sleeping.
func (h *Harness) Advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *Harness) Join(name string) string {
	h.T.Helper()

	out := make(chan []byte, 256)
	resp := make(chan authority.JoinResponse, 1)
	h.Store.StepOnce([]authority.JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Welcome.PlayerID == "" {
		h.T.Fatalf("join returned empty player id")
	}
	s := &session{PlayerID: jr.Welcome.PlayerID, SessionID: jr.Welcome.SessionID, Out: out, Join: jr}
	h.sessions[s.PlayerID] = s
	h.drainAll()
	return s.PlayerID
}

func (h *Harness) Leave(playerID string) {
	h.T.Helper()
	s := h.session(playerID)
	h.Store.StepOnce(nil, []string{s.SessionID}, nil)
	delete(h.sessions, playerID)
	h.drainAll()
}

func (h *Harness) JoinResponse(playerID string) authority.JoinResponse {
	h.T.Helper()
	return h.session(playerID).Join
}

// Cmd issues one command as the default player against the default
// player's own entity.
func (h *Harness) Cmd(kind string, payload any) authority.Outcome {
	return h.CmdFor(h.DefaultPlayerID, h.DefaultPlayerID, kind, payload)
}

// CmdOn issues one command as the default player against entityID.
func (h *Harness) CmdOn(entityID, kind string, payload any) authority.Outcome {
	return h.CmdFor(h.DefaultPlayerID, entityID, kind, payload)
}

// CmdFor issues one command with an explicit issuer. An empty issuer means
// authority self-issued.
func (h *Harness) CmdFor(issuerID, entityID, kind string, payload any) authority.Outcome {
	h.T.Helper()

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			h.T.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	env := authority.CmdEnvelope{
		IssuerID: issuerID,
		Cmd: protocol.CmdMsg{
			Type:            protocol.TypeCmd,
			ProtocolVersion: protocol.Version,
			CmdID:           "cmd-test",
			EntityID:        entityID,
			Kind:            kind,
			Payload:         raw,
		},
	}
	if issuerID != "" {
		env.SessionID = h.session(issuerID).SessionID
	}
	outs := h.Store.StepOnce(nil, nil, []authority.CmdEnvelope{env})
	h.drainAll()
	return outs[0]
}

// Tick runs one passive-schedule step and drains the wire.
func (h *Harness) Tick() {
	h.T.Helper()
	h.Store.TickOnce()
	h.drainAll()
}

func (h *Harness) SetPos(playerID string, pos [3]float64) {
	h.T.Helper()
	if !h.Store.DebugSetPos(playerID, pos) {
		h.T.Fatalf("DebugSetPos returned false for %s", playerID)
	}
	h.drainAll()
}

func (h *Harness) SeedItem(itemID string, pos [3]float64) string {
	h.T.Helper()
	id, err := h.Store.SeedItem(itemID, pos)
	if err != nil {
		h.T.Fatalf("SeedItem: %v", err)
	}
	h.drainAll()
	return id
}

func (h *Harness) SeedDoor(pos [3]float64) string {
	h.T.Helper()
	id := h.Store.SeedDoor(pos)
	h.drainAll()
	return id
}

// DeltasFor returns every DELTA the player's session has received so far.
func (h *Harness) DeltasFor(playerID string) []protocol.DeltaMsg {
	h.T.Helper()
	return h.session(playerID).Deltas
}

// SnapshotsFor returns every SNAPSHOT the player's session has received.
func (h *Harness) SnapshotsFor(playerID string) []protocol.SnapshotMsg {
	h.T.Helper()
	return h.session(playerID).Snapshots
}

func (h *Harness) DespawnsFor(playerID string) []protocol.DespawnMsg {
	h.T.Helper()
	return h.session(playerID).Despawns
}

func (h *Harness) AcksFor(playerID string) []protocol.AckMsg {
	h.T.Helper()
	return h.session(playerID).Acks
}

// ClearWire forgets everything received so far, so assertions can scope to
// the next action only.
func (h *Harness) ClearWire() {
	for _, s := range h.sessions {
		s.Deltas, s.Snapshots, s.Despawns, s.Acks = nil, nil, nil, nil
	}
}

// Resync requests a fresh snapshot of entityID for the player's session.
func (h *Harness) Resync(playerID, entityID string) {
	h.T.Helper()
	h.Store.HandleResync(authority.ResyncRequest{
		SessionID: h.session(playerID).SessionID,
		EntityID:  entityID,
	})
	h.drainAll()
}

func (h *Harness) session(playerID string) *session {
	h.T.Helper()
	s := h.sessions[playerID]
	if s == nil {
		h.T.Fatalf("unknown player id: %q", playerID)
	}
	return s
}

func (h *Harness) drainAll() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drainOne(s)
	}
}

func (h *Harness) drainOne(s *session) {
	h.T.Helper()
	for {
		select {
		case b := <-s.Out:
			h.decode(s, b)
			continue
		default:
		}
		return
	}
}

func (h *Harness) decode(s *session, b []byte) {
	h.T.Helper()
	base, err := protocol.DecodeBase(b)
	if err != nil {
		h.T.Fatalf("decode wire frame: %v", err)
	}
	switch base.Type {
	case protocol.TypeDelta:
		var m protocol.DeltaMsg
		if err := json.Unmarshal(b, &m); err != nil {
			h.T.Fatalf("unmarshal DELTA: %v", err)
		}
		s.Deltas = append(s.Deltas, m)
	case protocol.TypeSnapshot:
		var m protocol.SnapshotMsg
		if err := json.Unmarshal(b, &m); err != nil {
			h.T.Fatalf("unmarshal SNAPSHOT: %v", err)
		}
		s.Snapshots = append(s.Snapshots, m)
	case protocol.TypeDespawn:
		var m protocol.DespawnMsg
		if err := json.Unmarshal(b, &m); err != nil {
			h.T.Fatalf("unmarshal DESPAWN: %v", err)
		}
		s.Despawns = append(s.Despawns, m)
	case protocol.TypeAck:
		var m protocol.AckMsg
		if err := json.Unmarshal(b, &m); err != nil {
			h.T.Fatalf("unmarshal ACK: %v", err)
		}
		s.Acks = append(s.Acks, m)
	default:
		h.T.Fatalf("unexpected wire type %q", base.Type)
	}
}
