// Package authority owns the canonical value of every replicated entity.
// A single goroutine serializes all mutations: commands are validated
// against current state and either applied atomically (bumping the entity
// version once per changed field) or rejected with state untouched.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/replica"
	"vigilkeep.gg/internal/sim/catalogs"
	"vigilkeep.gg/internal/sim/tuning"
)

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome   protocol.WelcomeMsg
	Catalogs  []protocol.CatalogMsg
	Snapshots []protocol.SnapshotMsg
}

// CmdEnvelope pairs a command with the identity the transport attached to
// it. IssuerID is the session's player entity id; empty means the command
// was self-issued by the authority (passive schedule, damage zones).
type CmdEnvelope struct {
	SessionID string
	IssuerID  string
	Cmd       protocol.CmdMsg
}

type ResyncRequest struct {
	SessionID string
	EntityID  string
}

// Outcome is the result of one Submit: either accepted with the produced
// deltas, or rejected with a reason code and no state change.
type Outcome struct {
	CmdID   string
	OK      bool
	Code    string
	Message string
	Deltas  []protocol.DeltaMsg

	// despawns lists entities that reached their terminal state as part
	// of this command (e.g. a picked-up world item).
	despawns []string
}

type DeltaLogger interface {
	WriteDelta(rec DeltaRecord) error
}

type AuditLogger interface {
	WriteAudit(rec AuditRecord) error
}

type DeltaRecord struct {
	Tick     uint64 `json:"tick"`
	EntityID string `json:"entity_id"`
	Field    string `json:"field"`
	Old      any    `json:"old"`
	New      any    `json:"new"`
	Version  uint64 `json:"version"`
}

type AuditRecord struct {
	Tick     uint64 `json:"tick"`
	Issuer   string `json:"issuer,omitempty"`
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
	OK       bool   `json:"ok"`
	Code     string `json:"code,omitempty"`
}

type session struct {
	ID       string
	PlayerID string
	Out      chan []byte
}

// Store is the single writer of canonical state. All maps are owned by the
// goroutine running Run (or, in tests, the goroutine driving StepOnce).
type Store struct {
	tune tuning.Tuning
	cats *catalogs.Catalogs

	logger *log.Logger
	now    func() time.Time

	entities map[string]*Entity
	clockID  string

	sessions map[string]*session

	tick            uint64
	clockEveryTicks uint64
	drainPerTick    float64

	joinCh   chan JoinRequest
	leaveCh  chan string
	cmdCh    chan CmdEnvelope
	resyncCh chan ResyncRequest
	submitCh chan submitReq
	stop     chan struct{}

	deltaLogger DeltaLogger
	auditLogger AuditLogger

	// local is the authority's own observer view. Accepted commands feed
	// it by direct call, never through the network path, so host-side
	// consumers see changes synchronously.
	local *replica.Cache
}

type submitReq struct {
	Env  CmdEnvelope
	Resp chan Outcome
}

func New(tune tuning.Tuning, cats *catalogs.Catalogs, logger *log.Logger) (*Store, error) {
	if err := tune.Validate(); err != nil {
		return nil, err
	}
	if cats == nil {
		return nil, errors.New("nil catalogs")
	}
	if err := validateCommandDispatch(); err != nil {
		return nil, err
	}

	clockEvery := uint64(tune.ClockAdvanceSeconds * float64(tune.TickRateHz))
	if clockEvery == 0 {
		clockEvery = 1
	}

	s := &Store{
		tune:            tune,
		cats:            cats,
		logger:          logger,
		now:             time.Now,
		entities:        map[string]*Entity{},
		sessions:        map[string]*session{},
		clockEveryTicks: clockEvery,
		drainPerTick:    tune.FaithDrainPerSecond / float64(tune.TickRateHz),
		joinCh:          make(chan JoinRequest, 64),
		leaveCh:         make(chan string, 64),
		cmdCh:           make(chan CmdEnvelope, 1024),
		resyncCh:        make(chan ResyncRequest, 256),
		submitCh:        make(chan submitReq, 256),
		stop:            make(chan struct{}),
		local:           replica.NewCache(),
	}
	s.local.Registry().SetLogger(logger)

	// The day/night clock exists for the whole process lifetime.
	clock := newEntity(KindClock, map[string]any{
		FieldHour:   float64(9),
		FieldMinute: float64(0),
		FieldIsPM:   true,
	})
	s.entities[clock.ID] = clock
	s.clockID = clock.ID
	s.local.ApplySnapshot(s.snapshotMsg(clock, ""))

	return s, nil
}

func (s *Store) SetDeltaLogger(l DeltaLogger) { s.deltaLogger = l }
func (s *Store) SetAuditLogger(l AuditLogger) { s.auditLogger = l }

// SetNow overrides the authority clock. Cooldown tests drive time through
// this hook.
func (s *Store) SetNow(now func() time.Time) { s.now = now }

func (s *Store) Join() chan<- JoinRequest     { return s.joinCh }
func (s *Store) Leave() chan<- string         { return s.leaveCh }
func (s *Store) Inbox() chan<- CmdEnvelope    { return s.cmdCh }
func (s *Store) Resync() chan<- ResyncRequest { return s.resyncCh }

// Local returns the authority's own observer cache. Host-process consumers
// subscribe and read through it; they never see the network path.
func (s *Store) Local() *replica.Cache { return s.local }

// ClockID returns the id of the world clock entity.
func (s *Store) ClockID() string { return s.clockID }

// Submit runs one command through validation and mutation from any
// goroutine while Run is active. Fire-and-forget issuers wrap this.
func (s *Store) Submit(ctx context.Context, env CmdEnvelope) (Outcome, error) {
	req := submitReq{Env: env, Resp: make(chan Outcome, 1)}
	select {
	case s.submitCh <- req:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case out := <-req.Resp:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Run processes messages until ctx is done. Commands are handled strictly
// in arrival order; the ticker drives only the passive mutation schedule.
func (s *Store) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.joinCh:
			s.handleJoin(req)
		case id := <-s.leaveCh:
			s.handleLeave(id)
		case env := <-s.cmdCh:
			s.dispatch(env)
		case req := <-s.resyncCh:
			s.handleResync(req)
		case req := <-s.submitCh:
			req.Resp <- s.apply(req.Env)
		case <-ticker.C:
			s.TickOnce()
		}
	}
}

func (s *Store) Stop() { close(s.stop) }

// StepOnce synchronously processes the given joins, leaves, and commands.
// Test/loop-goroutine use only, like driving one iteration of Run by hand.
func (s *Store) StepOnce(joins []JoinRequest, leaves []string, cmds []CmdEnvelope) []Outcome {
	for _, j := range joins {
		s.handleJoin(j)
	}
	for _, id := range leaves {
		s.handleLeave(id)
	}
	outs := make([]Outcome, 0, len(cmds))
	for _, env := range cmds {
		out := s.apply(env)
		s.deliverAck(env, out)
		outs = append(outs, out)
	}
	return outs
}

// HandleResync serves a snapshot request. Owner goroutine only.
func (s *Store) HandleResync(req ResyncRequest) { s.handleResync(req) }

// dispatch applies a transport-delivered command and routes the ACK back to
// the issuing session only.
func (s *Store) dispatch(env CmdEnvelope) {
	out := s.apply(env)
	s.deliverAck(env, out)
}

func (s *Store) deliverAck(env CmdEnvelope, out Outcome) {
	sess := s.sessions[env.SessionID]
	if sess == nil || env.Cmd.CmdID == "" {
		return
	}
	s.sendTo(sess, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          out.CmdID,
		OK:              out.OK,
		Code:            out.Code,
		Message:         out.Message,
	})
}

func (s *Store) handleJoin(req JoinRequest) {
	name := req.Name
	if name == "" {
		name = "wanderer"
	}
	p := s.spawn(KindPlayer, map[string]any{
		FieldName:      name,
		FieldPos:       []float64{0, 0, 0},
		FieldFaith:     s.tune.FaithMax,
		FieldFaithMax:  s.tune.FaithMax,
		FieldHealth:    s.tune.HealthMax,
		FieldHealthMax: s.tune.HealthMax,
		FieldInventory: []string{},
	})
	p.Owner = p.ID

	sess := &session{ID: uuid.NewString(), PlayerID: p.ID, Out: req.Out}
	s.sessions[sess.ID] = sess

	resp := JoinResponse{
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			PlayerID:        p.ID,
			SessionID:       sess.ID,
			WorldParams: protocol.WorldParams{
				TickRateHz:        s.tune.TickRateHz,
				PickupRangeM:      s.tune.PickupRangeM,
				InteractRangeM:    s.tune.InteractRangeM,
				InventoryCapacity: s.tune.InventoryCapacity,
			},
		},
		Catalogs: s.catalogMsgs(),
	}

	// Late-join catch-up: one snapshot per live entity, private fields
	// filtered to what this observer may see.
	for _, id := range s.sortedEntityIDs() {
		e := s.entities[id]
		if !e.active() {
			continue
		}
		resp.Snapshots = append(resp.Snapshots, s.snapshotMsg(e, p.ID))
	}

	if req.Resp != nil {
		req.Resp <- resp
	}

	if s.logger != nil {
		s.logger.Printf("join: player=%s session=%s name=%q", p.ID, sess.ID, name)
	}
}

func (s *Store) handleLeave(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	s.despawn(sess.PlayerID)
	if s.logger != nil {
		s.logger.Printf("leave: player=%s session=%s", sess.PlayerID, sessionID)
	}
}

func (s *Store) handleResync(req ResyncRequest) {
	sess := s.sessions[req.SessionID]
	if sess == nil {
		return
	}
	e := s.entities[req.EntityID]
	if e == nil {
		return
	}
	if !e.active() {
		s.sendTo(sess, protocol.DespawnMsg{
			Type:            protocol.TypeDespawn,
			ProtocolVersion: protocol.Version,
			EntityID:        e.ID,
			Version:         e.Version,
		})
		return
	}
	s.sendTo(sess, s.snapshotMsg(e, sess.PlayerID))
}

// Snapshot returns the full current state of one entity via the owner
// goroutine. Used by in-process consumers that bypass the transport.
func (s *Store) Snapshot(ctx context.Context, entityID string) (protocol.SnapshotMsg, error) {
	// The local cache mirrors canonical state exactly, so serve from it
	// without crossing into the loop goroutine.
	fields, version, ok := s.local.CurrentState(entityID)
	if !ok {
		return protocol.SnapshotMsg{}, errors.New("unknown entity")
	}
	_ = ctx
	return protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		EntityID:        entityID,
		Fields:          fields,
		Version:         version,
	}, nil
}

// spawn registers a new active entity, announces it to every connected
// observer, and feeds the local view.
func (s *Store) spawn(kind string, fields map[string]any) *Entity {
	e := newEntity(kind, fields)
	s.entities[e.ID] = e
	for _, sess := range s.sessions {
		s.sendTo(sess, s.snapshotMsg(e, sess.PlayerID))
	}
	s.local.ApplySnapshot(s.snapshotMsg(e, ""))
	return e
}

// despawn freezes an entity at its last value and tells every observer.
func (s *Store) despawn(entityID string) {
	e := s.entities[entityID]
	if !e.active() {
		return
	}
	e.state = stateDestroyed
	msg := protocol.DespawnMsg{
		Type:            protocol.TypeDespawn,
		ProtocolVersion: protocol.Version,
		EntityID:        e.ID,
		Version:         e.Version,
	}
	for _, sess := range s.sessions {
		s.sendTo(sess, msg)
	}
	s.local.Destroy(e.ID)
}

// emit routes accepted deltas: private fields point-to-point to the owning
// observer, everything else broadcast. The local view is fed by direct
// call, which also covers the authority-is-an-observer case.
func (s *Store) emit(deltas []protocol.DeltaMsg) {
	for _, d := range deltas {
		e := s.entities[d.EntityID]
		if e == nil {
			continue
		}
		wire := d
		wire.Type = protocol.TypeDelta
		wire.ProtocolVersion = protocol.Version
		if privateField(e.Kind, d.Field) {
			for _, sess := range s.sessions {
				if sess.PlayerID == e.Owner {
					s.sendTo(sess, wire)
				}
			}
		} else {
			for _, sess := range s.sessions {
				s.sendTo(sess, wire)
			}
		}
		if err := s.local.ApplyDelta(d); err != nil && s.logger != nil {
			s.logger.Printf("local apply: %v", err)
		}
		if s.deltaLogger != nil {
			if err := s.deltaLogger.WriteDelta(DeltaRecord{
				Tick:     s.tick,
				EntityID: d.EntityID,
				Field:    d.Field,
				Old:      d.Old,
				New:      d.New,
				Version:  d.Version,
			}); err != nil && s.logger != nil {
				s.logger.Printf("delta log: %v", err)
			}
		}
	}
}

// sendTo never blocks the authority loop. A full observer queue drops the
// message; the observer notices the version gap and resyncs.
func (s *Store) sendTo(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("marshal to %s: %v", sess.ID, err)
		}
		return
	}
	select {
	case sess.Out <- b:
	default:
		if s.logger != nil {
			s.logger.Printf("drop to %s: queue full", sess.ID)
		}
	}
}

func (s *Store) snapshotMsg(e *Entity, viewerPlayerID string) protocol.SnapshotMsg {
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		if privateField(e.Kind, k) && viewerPlayerID != e.Owner && viewerPlayerID != "" {
			continue
		}
		fields[k] = v
	}
	return protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		EntityID:        e.ID,
		EntityKind:      e.Kind,
		Fields:          fields,
		Version:         e.Version,
	}
}

func (s *Store) catalogMsgs() []protocol.CatalogMsg {
	attacks := make([]catalogs.AttackDef, 0, len(s.cats.Attacks.ByID))
	for _, id := range sortedKeys(s.cats.Attacks.ByID) {
		attacks = append(attacks, s.cats.Attacks.ByID[id])
	}
	items := make([]catalogs.ItemDef, 0, len(s.cats.Items.ByID))
	for _, id := range sortedKeys(s.cats.Items.ByID) {
		items = append(items, s.cats.Items.ByID[id])
	}
	return []protocol.CatalogMsg{
		{Type: protocol.TypeCatalog, ProtocolVersion: protocol.Version, Name: "attacks", Data: attacks},
		{Type: protocol.TypeCatalog, ProtocolVersion: protocol.Version, Name: "items", Data: items},
	}
}

func (s *Store) sortedEntityIDs() []string {
	out := make([]string, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) audit(env CmdEnvelope, out Outcome) {
	if s.auditLogger == nil {
		return
	}
	if err := s.auditLogger.WriteAudit(AuditRecord{
		Tick:     s.tick,
		Issuer:   env.IssuerID,
		EntityID: env.Cmd.EntityID,
		Kind:     env.Cmd.Kind,
		OK:       out.OK,
		Code:     out.Code,
	}); err != nil && s.logger != nil {
		s.logger.Printf("audit log: %v", err)
	}
}
