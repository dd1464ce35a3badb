package authority

import "fmt"

// Command kinds. A closed set: every entity mutation in the system is one
// of these, validated centrally (no capability probing at call sites).
const (
	KindFaithReduce   = "FAITH_REDUCE"
	KindFaithIncrease = "FAITH_INCREASE"
	KindCast          = "CAST"
	KindPickup        = "PICKUP"
	KindDrop          = "DROP"
	KindInteract      = "INTERACT"
	KindHurt          = "HURT"
	KindHeal          = "HEAL"

	// Authority self-issued kinds (passive schedule, damage zones).
	KindFaithDrain   = "FAITH_DRAIN"
	KindClockAdvance = "CLOCK_ADVANCE"
)

var supportedKinds = []string{
	KindFaithReduce,
	KindFaithIncrease,
	KindCast,
	KindPickup,
	KindDrop,
	KindInteract,
	KindHurt,
	KindHeal,
	KindFaithDrain,
	KindClockAdvance,
}

// Command payloads.

type amountPayload struct {
	Amount float64 `json:"amount"`
}

type castPayload struct {
	Attack string     `json:"attack"`
	Target [3]float64 `json:"target"`

	// DeclaredDistance is accepted on the wire but never consulted; the
	// authority recomputes range itself.
	DeclaredDistance float64 `json:"declared_distance,omitempty"`
}

type pickupPayload struct {
	Item string `json:"item"`
}

type dropPayload struct {
	Slot int `json:"slot"`
}

type clockAdvancePayload struct {
	Minutes int `json:"minutes"`
}

type applyFunc func(s *Store, e *Entity, env CmdEnvelope) Outcome

var commandDispatch = map[string]applyFunc{
	KindFaithReduce:   applyFaithReduce,
	KindFaithIncrease: applyFaithIncrease,
	KindCast:          applyCast,
	KindPickup:        applyPickup,
	KindDrop:          applyDrop,
	KindInteract:      applyInteract,
	KindHurt:          applyHurt,
	KindHeal:          applyHeal,
	KindFaithDrain:    applyFaithDrain,
	KindClockAdvance:  applyClockAdvance,
}

func validateCommandDispatch() error {
	allowed := make(map[string]struct{}, len(supportedKinds))
	for _, k := range supportedKinds {
		if k == "" {
			return fmt.Errorf("commandDispatch: empty supported kind")
		}
		if _, ok := allowed[k]; ok {
			return fmt.Errorf("commandDispatch: duplicate supported kind %q", k)
		}
		allowed[k] = struct{}{}
	}
	if len(commandDispatch) != len(allowed) {
		return fmt.Errorf("commandDispatch size mismatch: got=%d want=%d", len(commandDispatch), len(allowed))
	}
	for k := range commandDispatch {
		if _, ok := allowed[k]; !ok {
			return fmt.Errorf("commandDispatch has unsupported kind %q", k)
		}
	}
	return nil
}
