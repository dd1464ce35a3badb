// Package validate holds the pure precondition rules the authority runs
// before mutating replicated state. Rules never touch wall-clock time or
// mutate anything; cooldown checks compare explicitly passed timestamps.
package validate

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"vigilkeep.gg/internal/protocol"
)

// Fields is a read-only view of an entity's current replicated values.
type Fields map[string]any

// Reject is a validation failure. Nil means allow.
type Reject struct {
	Code    string
	Message string
}

// Rule checks one precondition against current field values.
type Rule func(Fields) *Reject

// Chain runs rules in order; the first rejection wins and is returned
// verbatim. All-or-nothing: callers mutate only on a nil result.
func Chain(f Fields, rules ...Rule) *Reject {
	for _, r := range rules {
		if rej := r(f); rej != nil {
			return rej
		}
	}
	return nil
}

// ResourceAtLeast requires available >= required on a numeric field.
func ResourceAtLeast(field string, required float64) Rule {
	return func(f Fields) *Reject {
		have, ok := Num(f, field)
		if !ok {
			return &Reject{Code: protocol.ErrInternal, Message: fmt.Sprintf("missing numeric field %q", field)}
		}
		if have < required {
			return &Reject{
				Code:    protocol.ErrNoResource,
				Message: fmt.Sprintf("%s %.3g < required %.3g", field, have, required),
			}
		}
		return nil
	}
}

// CapacityBelow requires a list field to hold fewer than capacity entries.
func CapacityBelow(field string, capacity int) Rule {
	return func(f Fields) *Reject {
		items := Strings(f, field)
		if len(items) >= capacity {
			return &Reject{
				Code:    protocol.ErrCapacity,
				Message: fmt.Sprintf("%s full (%d/%d)", field, len(items), capacity),
			}
		}
		return nil
	}
}

// WithinRange requires the Euclidean distance between the entity's position
// field and target to be at most maxM. The distance is always computed here,
// on the authority; client-declared distances are never consulted.
func WithinRange(posField string, target [3]float64, maxM float64) Rule {
	return func(f Fields) *Reject {
		pos, ok := Vec3(f, posField)
		if !ok {
			return &Reject{Code: protocol.ErrInternal, Message: fmt.Sprintf("missing position field %q", posField)}
		}
		d := mgl64.Vec3(pos).Sub(mgl64.Vec3(target)).Len()
		if d > maxM {
			return &Reject{
				Code:    protocol.ErrOutOfRange,
				Message: fmt.Sprintf("target %.1fm away, max %.1fm", d, maxM),
			}
		}
		return nil
	}
}

// BoolIs requires a bool field to hold want.
func BoolIs(field string, want bool, code, msg string) Rule {
	return func(f Fields) *Reject {
		got, _ := f[field].(bool)
		if got != want {
			return &Reject{Code: code, Message: msg}
		}
		return nil
	}
}

// CooldownReady rejects while now is before readyAt. The only rule with
// time semantics, and both instants are inputs.
func CooldownReady(readyAt, now time.Time) Rule {
	return func(Fields) *Reject {
		if now.Before(readyAt) {
			return &Reject{
				Code:    protocol.ErrCooldown,
				Message: fmt.Sprintf("ready in %.2fs", readyAt.Sub(now).Seconds()),
			}
		}
		return nil
	}
}

// IssuerOwns requires the command issuer to be the entity's owning observer.
func IssuerOwns(owner, issuer string) Rule {
	return func(Fields) *Reject {
		if issuer != owner {
			return &Reject{Code: protocol.ErrNoPermission, Message: "not the owning player"}
		}
		return nil
	}
}

// AuthorityOnly requires the command to be self-issued by the authority
// (empty issuer id), e.g. passive drain or damage zones.
func AuthorityOnly(issuer string) Rule {
	return func(Fields) *Reject {
		if issuer != "" {
			return &Reject{Code: protocol.ErrNoPermission, Message: "authority-issued command kind"}
		}
		return nil
	}
}

// Clamp bounds v to [lo, hi]. Shared post-mutation semantics for resource
// fields.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Distance is the authority-side Euclidean distance between two points.
func Distance(a, b [3]float64) float64 {
	return mgl64.Vec3(a).Sub(mgl64.Vec3(b)).Len()
}

// Num reads a numeric field.
func Num(f Fields, field string) (float64, bool) {
	switch v := f[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Strings reads a list-of-strings field; missing yields nil.
func Strings(f Fields, field string) []string {
	v, _ := protocol.NormalizeValue(f[field]).([]string)
	return v
}

// Vec3 reads a position field.
func Vec3(f Fields, field string) ([3]float64, bool) {
	switch v := f[field].(type) {
	case [3]float64:
		return v, true
	case []float64:
		if len(v) == 3 {
			return [3]float64{v[0], v[1], v[2]}, true
		}
	case []any:
		if n, ok := protocol.NormalizeValue(v).([]float64); ok && len(n) == 3 {
			return [3]float64{n[0], n[1], n[2]}, true
		}
	}
	return [3]float64{}, false
}
