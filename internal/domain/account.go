package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountLink is a committed association between a chat identity and a
// game identity. Both sides are unique across all links.
type AccountLink struct {
	ChatID    string    `json:"chat_id"`
	GameID    string    `json:"game_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingAuthorization is a claimed but unverified link. The code is shown
// to the player in-game and redeemed from the chat side.
type PendingAuthorization struct {
	GameID    string    `json:"game_id"`
	Code      string    `json:"auth_code"`
	ChatID    string    `json:"chat_id,omitempty"` // most recent requester, if any
	CreatedAt time.Time `json:"created_at"`
}

// AltAccount is a secondary game identity whitelisted by an administrator.
type AltAccount struct {
	Owner  string `json:"owner"`
	GameID string `json:"alt_id"`
	Name   string `json:"alt_name"`
}

// GameProfile is a game identity together with its current display name.
type GameProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is everything known about one chat identity.
type Profile struct {
	ChatID     string                `json:"chat_id"`
	GameID     string                `json:"game_id,omitempty"`
	PlayerName string                `json:"player_name,omitempty"`
	Banned     bool                  `json:"banned"`
	Pending    *PendingAuthorization `json:"pending,omitempty"`
}

// Counts summarises the size of every table.
type Counts struct {
	Links   int `json:"links"`
	Pending int `json:"pending"`
	Alts    int `json:"alts"`
	Bans    int `json:"bans"`
}

// CanonicalGameID normalises a game identity. UUIDs in any accepted form
// (dashed, undashed, braced, urn) collapse to the lowercase dashed form so
// that the Mojang API and the game server agree; anything else is an
// opaque identifier and is only trimmed.
func CanonicalGameID(id string) string {
	id = strings.TrimSpace(id)
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}
