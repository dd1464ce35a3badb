package authoritytest

import (
	"testing"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/sim/validate"
)

// fieldNum reads a numeric field from the authority's local view.
func fieldNum(t *testing.T, h *Harness, entityID, field string) float64 {
	t.Helper()
	fields, _, ok := h.Store.Local().CurrentState(entityID)
	if !ok {
		t.Fatalf("entity %s not in local view", entityID)
	}
	v, ok := validate.Num(validate.Fields(fields), field)
	if !ok {
		t.Fatalf("field %s.%s not numeric: %v", entityID, field, fields[field])
	}
	return v
}

func fieldBool(t *testing.T, h *Harness, entityID, field string) bool {
	t.Helper()
	fields, _, ok := h.Store.Local().CurrentState(entityID)
	if !ok {
		t.Fatalf("entity %s not in local view", entityID)
	}
	v, ok := fields[field].(bool)
	if !ok {
		t.Fatalf("field %s.%s not bool: %v", entityID, field, fields[field])
	}
	return v
}

func fieldStrings(t *testing.T, h *Harness, entityID, field string) []string {
	t.Helper()
	fields, _, ok := h.Store.Local().CurrentState(entityID)
	if !ok {
		t.Fatalf("entity %s not in local view", entityID)
	}
	return validate.Strings(validate.Fields(fields), field)
}

func version(t *testing.T, h *Harness, entityID string) uint64 {
	t.Helper()
	v, ok := h.Store.Local().Version(entityID)
	if !ok {
		t.Fatalf("entity %s not in local view", entityID)
	}
	return v
}

// deltasFor filters a session's received deltas to one entity and field.
func deltasFor(msgs []protocol.DeltaMsg, entityID, field string) []protocol.DeltaMsg {
	var out []protocol.DeltaMsg
	for _, d := range msgs {
		if d.EntityID == entityID && d.Field == field {
			out = append(out, d)
		}
	}
	return out
}
