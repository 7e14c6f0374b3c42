package domain

import "time"

// Event types for the admin event stream
const (
	EventLinkCreated    = "link_created"
	EventLinkRemoved    = "link_removed"
	EventAuthCodeIssued = "auth_code_issued"
	EventBanned         = "banned"
	EventPardoned       = "pardoned"
	EventMaintenance    = "maintenance"
	EventAltAdded       = "alt_added"
	EventAltRemoved     = "alt_removed"
)

// Event represents a state change for WebSocket and NATS subscribers
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// LinkEvent is sent when a link is created or removed
type LinkEvent struct {
	ChatID string `json:"chat_id"`
	GameID string `json:"game_id,omitempty"`
}

// AuthCodeEvent is sent when a new pending authorization is minted
type AuthCodeEvent struct {
	GameID string `json:"game_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// BanEvent is sent when a chat identity is banned or pardoned
type BanEvent struct {
	ChatID string `json:"chat_id"`
}

// MaintenanceEvent is sent when maintenance mode is toggled
type MaintenanceEvent struct {
	Enabled bool `json:"enabled"`
}

// AltEvent is sent when an alt account is added or removed
type AltEvent struct {
	Owner  string `json:"owner,omitempty"`
	GameID string `json:"alt_id,omitempty"`
	Name   string `json:"alt_name"`
}
