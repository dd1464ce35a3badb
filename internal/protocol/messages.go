package protocol

import "encoding/json"

// HELLO (observer -> authority)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerName      string            `json:"player_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (authority -> observer)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	PlayerID        string      `json:"player_id"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz        int     `json:"tick_rate_hz"`
	PickupRangeM      float64 `json:"pickup_range_m"`
	InteractRangeM    float64 `json:"interact_range_m"`
	InventoryCapacity int     `json:"inventory_capacity"`
}

// CATALOG (authority -> observer): attack/item definitions, one part per catalog.
type CatalogMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Name            string      `json:"name"` // "attacks" or "items"
	Data            interface{} `json:"data"`
}

// CMD (observer -> authority): a validated mutation request.
// Payload shape depends on Kind; the authority decodes and validates it.
type CmdMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	CmdID           string          `json:"cmd_id"`
	EntityID        string          `json:"entity_id"`
	Kind            string          `json:"kind"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTS        int64           `json:"client_ts,omitempty"`
}

// ACK (authority -> issuing observer only)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Version         uint64 `json:"version,omitempty"`
}

// DELTA (authority -> observers): one field change, versioned per entity.
type DeltaMsg struct {
	Type            string `json:"type,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	EntityID        string `json:"entity_id"`
	Field           string `json:"field"`
	Old             any    `json:"old"`
	New             any    `json:"new"`
	Version         uint64 `json:"version"`
}

// SNAPSHOT (authority -> observer): full entity state, a reset not a merge.
type SnapshotMsg struct {
	Type            string         `json:"type,omitempty"`
	ProtocolVersion string         `json:"protocol_version,omitempty"`
	EntityID        string         `json:"entity_id"`
	EntityKind      string         `json:"entity_kind"`
	Fields          map[string]any `json:"fields"`
	Version         uint64         `json:"version"`
}

// RESYNC (observer -> authority): request a fresh snapshot after a version gap.
type ResyncMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EntityID        string `json:"entity_id"`
}

// DESPAWN (authority -> observers): entity reached its terminal state.
type DespawnMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EntityID        string `json:"entity_id"`
	Version         uint64 `json:"version"`
}
