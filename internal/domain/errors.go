package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches every *ConflictError via errors.Is.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCode is returned when an authentication code is unknown,
	// expired or already redeemed.
	ErrInvalidCode = errors.New("invalid authentication code")
	// ErrUnknownPlayer is returned when a player name cannot be resolved
	// to a game identity.
	ErrUnknownPlayer = errors.New("unknown player")
)

// ConflictKind names the table a uniqueness violation happened in.
type ConflictKind string

const (
	ConflictLink ConflictKind = "link"
	ConflictAlt  ConflictKind = "alt"
)

// ConflictSide says which identity of a request is already taken.
type ConflictSide string

const (
	// SideChat: the chat identity is linked to another game identity.
	SideChat ConflictSide = "chat"
	// SideGame: the game identity is linked to another chat identity.
	SideGame ConflictSide = "game"
	// SideBoth: the two identities are already linked to each other.
	SideBoth ConflictSide = "both"
	// SideName: an alt with the same display name exists.
	SideName ConflictSide = "name"
)

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Kind ConflictKind
	Side ConflictSide
	// GameTaken is set on a chat-side link conflict when the game identity
	// is also linked, to a different chat identity.
	GameTaken bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on %s", e.Kind, e.Side)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// AsConflict unwraps err into a *ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
