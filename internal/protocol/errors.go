package protocol

// Reject reasons carried on ACK messages. Routine gameplay outcomes, not
// transport or server errors.
const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command validation layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrNoResource   = "E_NO_RESOURCE"
	ErrOutOfRange   = "E_OUT_OF_RANGE"
	ErrCooldown     = "E_COOLDOWN"
	ErrCapacity     = "E_CAPACITY"
	ErrNotFound     = "E_NOT_FOUND"

	// Replication layer.
	ErrStale    = "E_STALE"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrNoResource:      {},
	ErrOutOfRange:      {},
	ErrCooldown:        {},
	ErrCapacity:        {},
	ErrNotFound:        {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
