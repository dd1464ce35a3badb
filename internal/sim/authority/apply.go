package authority

import (
	"encoding/json"
	"fmt"
	"time"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/sim/catalogs"
	"vigilkeep.gg/internal/sim/validate"
)

// apply is the single mutation path. Validation and mutation for one
// command happen as one atomic step relative to every other command; a
// rejection leaves all field values and versions untouched.
func (s *Store) apply(env CmdEnvelope) Outcome {
	out := s.applyDispatch(env)
	s.audit(env, out)
	if out.OK {
		s.emit(out.Deltas)
		for _, id := range out.despawns {
			s.despawn(id)
		}
	}
	return out
}

func (s *Store) applyDispatch(env CmdEnvelope) Outcome {
	e := s.entities[env.Cmd.EntityID]
	if !e.active() {
		return reject(env.Cmd.CmdID, protocol.ErrNotFound, "no such entity")
	}
	h := commandDispatch[env.Cmd.Kind]
	if h == nil {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, fmt.Sprintf("unknown command kind %q", env.Cmd.Kind))
	}
	return h(s, e, env)
}

func reject(cmdID, code, msg string) Outcome {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	return Outcome{CmdID: cmdID, OK: false, Code: code, Message: msg}
}

func rejectRule(cmdID string, r *validate.Reject) Outcome {
	return reject(cmdID, r.Code, r.Message)
}

func accept(cmdID string, deltas ...protocol.DeltaMsg) Outcome {
	return Outcome{CmdID: cmdID, OK: true, Deltas: deltas}
}

// setField mutates one replicated field, bumping the entity version by
// exactly one, and returns the resulting delta. Call only after the whole
// command has passed validation.
func (s *Store) setField(e *Entity, field string, val any) protocol.DeltaMsg {
	old := e.Fields[field]
	e.Fields[field] = val
	e.Version++
	return protocol.DeltaMsg{
		EntityID: e.ID,
		Field:    field,
		Old:      old,
		New:      val,
		Version:  e.Version,
	}
}

// ownedBy gates a command to the entity's owning observer. Self-issued
// authority commands (empty issuer) always pass.
func ownedBy(e *Entity, issuer string) validate.Rule {
	if issuer == "" {
		return func(validate.Fields) *validate.Reject { return nil }
	}
	return validate.IssuerOwns(e.Owner, issuer)
}

func decodePayload[T any](env CmdEnvelope, out *T) *Outcome {
	if len(env.Cmd.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Cmd.Payload, out); err != nil {
		o := reject(env.Cmd.CmdID, protocol.ErrBadRequest, "malformed payload")
		return &o
	}
	return nil
}

func applyFaithReduce(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p amountPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if p.Amount <= 0 {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "amount must be positive")
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, ownedBy(e, env.IssuerID)); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}
	cur, _ := validate.Num(f, FieldFaith)
	max, _ := validate.Num(f, FieldFaithMax)
	if cur <= 0 {
		return reject(env.Cmd.CmdID, protocol.ErrNoResource, "faith exhausted")
	}
	next := validate.Clamp(cur-p.Amount, 0, max)
	return accept(env.Cmd.CmdID, s.setField(e, FieldFaith, next))
}

func applyFaithIncrease(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p amountPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if p.Amount <= 0 {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "amount must be positive")
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, ownedBy(e, env.IssuerID)); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}
	cur, _ := validate.Num(f, FieldFaith)
	max, _ := validate.Num(f, FieldFaithMax)
	if cur >= max {
		return reject(env.Cmd.CmdID, protocol.ErrNoResource, "faith already full")
	}
	next := validate.Clamp(cur+p.Amount, 0, max)
	return accept(env.Cmd.CmdID, s.setField(e, FieldFaith, next))
}

func applyCast(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p castPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	def, ok := s.cats.Attacks.ByID[p.Attack]
	if !ok {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, fmt.Sprintf("unknown attack %q", p.Attack))
	}

	// Cooldown before resource: a cast inside the cooldown window reports
	// E_COOLDOWN even when the previous cast also left faith short.
	rules := []validate.Rule{
		ownedBy(e, env.IssuerID),
		validate.CooldownReady(e.readyAt[def.ID], s.now()),
		validate.ResourceAtLeast(FieldFaith, def.Cost),
	}
	if def.TargetType != catalogs.TargetSelf {
		rules = append(rules, validate.WithinRange(FieldPos, p.Target, def.MaxRangeM))
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, rules...); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}

	cur, _ := validate.Num(f, FieldFaith)
	max, _ := validate.Num(f, FieldFaithMax)
	deltas := []protocol.DeltaMsg{
		s.setField(e, FieldFaith, validate.Clamp(cur-def.Cost, 0, max)),
	}
	e.readyAt[def.ID] = s.now().Add(secondsDur(def.CooldownS))

	// Area strikes damage every other player near the impact point.
	if def.Damage > 0 && def.RadiusM > 0 {
		for _, id := range s.sortedEntityIDs() {
			other := s.entities[id]
			if !other.active() || other.Kind != KindPlayer || other.ID == e.ID {
				continue
			}
			pos, ok := validate.Vec3(validate.Fields(other.Fields), FieldPos)
			if !ok || validate.Distance(pos, p.Target) > def.RadiusM {
				continue
			}
			hp, _ := validate.Num(validate.Fields(other.Fields), FieldHealth)
			hpMax, _ := validate.Num(validate.Fields(other.Fields), FieldHealthMax)
			next := validate.Clamp(hp-def.Damage, 0, hpMax)
			if next != hp {
				deltas = append(deltas, s.setField(other, FieldHealth, next))
			}
		}
	}
	return accept(env.Cmd.CmdID, deltas...)
}

func applyPickup(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p pickupPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	item := s.entities[p.Item]
	if !item.active() || item.Kind != KindItem {
		return reject(env.Cmd.CmdID, protocol.ErrNotFound, "no such item")
	}
	if avail, _ := item.Fields[FieldAvailable].(bool); !avail {
		return reject(env.Cmd.CmdID, protocol.ErrNotFound, "item already taken")
	}
	itemPos, ok := validate.Vec3(validate.Fields(item.Fields), FieldPos)
	if !ok {
		return reject(env.Cmd.CmdID, protocol.ErrInternal, "item has no position")
	}

	f := validate.Fields(e.Fields)
	if r := validate.Chain(f,
		ownedBy(e, env.IssuerID),
		validate.WithinRange(FieldPos, itemPos, s.tune.PickupRangeM),
		validate.CapacityBelow(FieldInventory, s.tune.InventoryCapacity),
	); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}

	itemID, _ := item.Fields[FieldItemID].(string)
	inv := validate.Strings(f, FieldInventory)
	next := make([]string, 0, len(inv)+1)
	next = append(next, inv...)
	next = append(next, itemID)

	out := accept(env.Cmd.CmdID,
		s.setField(e, FieldInventory, next),
		s.setField(item, FieldAvailable, false),
	)
	out.despawns = []string{item.ID}
	return out
}

func applyDrop(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p dropPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, ownedBy(e, env.IssuerID)); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}
	inv := validate.Strings(f, FieldInventory)
	if p.Slot < 0 || p.Slot >= len(inv) {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, fmt.Sprintf("invalid slot %d", p.Slot))
	}
	dropped := inv[p.Slot]
	next := make([]string, 0, len(inv)-1)
	next = append(next, inv[:p.Slot]...)
	next = append(next, inv[p.Slot+1:]...)

	out := accept(env.Cmd.CmdID, s.setField(e, FieldInventory, next))

	pos, _ := validate.Vec3(f, FieldPos)
	s.spawn(KindItem, map[string]any{
		FieldItemID:    dropped,
		FieldPos:       []float64{pos[0], pos[1], pos[2]},
		FieldAvailable: true,
	})
	return out
}

func applyInteract(s *Store, e *Entity, env CmdEnvelope) Outcome {
	if e.Kind != KindDoor {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a door entity")
	}
	// Any player may toggle a door, but only from nearby. The range is
	// computed from the replicated player position, server side.
	if env.IssuerID != "" {
		player := s.entities[env.IssuerID]
		if !player.active() || player.Kind != KindPlayer {
			return reject(env.Cmd.CmdID, protocol.ErrNotFound, "unknown issuer")
		}
		doorPos, ok := validate.Vec3(validate.Fields(e.Fields), FieldPos)
		if !ok {
			return reject(env.Cmd.CmdID, protocol.ErrInternal, "door has no position")
		}
		if r := validate.Chain(validate.Fields(player.Fields),
			validate.WithinRange(FieldPos, doorPos, s.tune.InteractRangeM),
		); r != nil {
			return rejectRule(env.Cmd.CmdID, r)
		}
	}
	open, _ := e.Fields[FieldOpen].(bool)
	return accept(env.Cmd.CmdID, s.setField(e, FieldOpen, !open))
}

func applyHurt(s *Store, e *Entity, env CmdEnvelope) Outcome {
	return applyHealthChange(s, e, env, -1)
}

func applyHeal(s *Store, e *Entity, env CmdEnvelope) Outcome {
	return applyHealthChange(s, e, env, +1)
}

// applyHealthChange handles HURT/HEAL. Damage zones live on the authority,
// so these kinds are never accepted from observers.
func applyHealthChange(s *Store, e *Entity, env CmdEnvelope, sign float64) Outcome {
	var p amountPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if p.Amount <= 0 {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "amount must be positive")
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, validate.AuthorityOnly(env.IssuerID)); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}
	cur, _ := validate.Num(f, FieldHealth)
	max, _ := validate.Num(f, FieldHealthMax)
	next := validate.Clamp(cur+sign*p.Amount, 0, max)
	if next == cur {
		return reject(env.Cmd.CmdID, protocol.ErrNoResource, "health at bound")
	}
	return accept(env.Cmd.CmdID, s.setField(e, FieldHealth, next))
}

func applyFaithDrain(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p amountPayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if e.Kind != KindPlayer {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not a player entity")
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, validate.AuthorityOnly(env.IssuerID)); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}
	amount := p.Amount
	if amount <= 0 {
		amount = s.drainPerTick
	}
	cur, _ := validate.Num(f, FieldFaith)
	max, _ := validate.Num(f, FieldFaithMax)
	if cur <= 0 {
		return reject(env.Cmd.CmdID, protocol.ErrNoResource, "faith exhausted")
	}
	return accept(env.Cmd.CmdID, s.setField(e, FieldFaith, validate.Clamp(cur-amount, 0, max)))
}

func applyClockAdvance(s *Store, e *Entity, env CmdEnvelope) Outcome {
	var p clockAdvancePayload
	if o := decodePayload(env, &p); o != nil {
		return *o
	}
	if e.Kind != KindClock {
		return reject(env.Cmd.CmdID, protocol.ErrBadRequest, "not the clock entity")
	}
	f := validate.Fields(e.Fields)
	if r := validate.Chain(f, validate.AuthorityOnly(env.IssuerID)); r != nil {
		return rejectRule(env.Cmd.CmdID, r)
	}
	step := p.Minutes
	if step <= 0 {
		step = s.tune.ClockMinutesPerAdvance
	}

	hour64, _ := validate.Num(f, FieldHour)
	minute64, _ := validate.Num(f, FieldMinute)
	isPM, _ := f[FieldIsPM].(bool)
	hour, minute := int(hour64), int(minute64)

	minute += step
	hourChanged, pmChanged := false, false
	for minute >= 60 {
		minute -= 60
		hour++
		hourChanged = true
		if hour == 12 {
			isPM = !isPM
			pmChanged = true
		}
		if hour > 12 {
			hour = 1
		}
	}

	deltas := []protocol.DeltaMsg{s.setField(e, FieldMinute, float64(minute))}
	if hourChanged {
		deltas = append(deltas, s.setField(e, FieldHour, float64(hour)))
	}
	if pmChanged {
		deltas = append(deltas, s.setField(e, FieldIsPM, isPM))
	}
	return accept(env.Cmd.CmdID, deltas...)
}

func secondsDur(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
