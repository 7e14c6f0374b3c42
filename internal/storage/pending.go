package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ernie/mcauth/internal/domain"
	"github.com/google/uuid"
)

// --- Pending authorization methods ---

const codeAttempts = 5

// generateCode mints an 8 character hex code from a random UUID
func generateCode() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

const pendingColumns = `game_identity, code, chat_identity, created_at`

// AssertCode returns the pending authorization for gameID, minting one if
// none is pending. A non-empty chatID is recorded as the latest requester.
// created reports whether a new code was minted.
func (s *Store) AssertCode(ctx context.Context, gameID, chatID string) (pending *domain.PendingAuthorization, created bool, err error) {
	now := s.now()
	cutoff := s.pendingCutoff()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pending_authorizations WHERE game_identity = ? AND created_at <= ?
		`, gameID, cutoff); err != nil {
			return fmt.Errorf("expiring pending authorization: %w", err)
		}

		existing, err := scanPending(tx.QueryRowContext(ctx, `
			SELECT `+pendingColumns+` FROM pending_authorizations WHERE game_identity = ?
		`, gameID))
		switch {
		case err == nil:
			if chatID != "" && existing.ChatID != chatID {
				if _, err := tx.ExecContext(ctx, `
					UPDATE pending_authorizations SET chat_identity = ? WHERE game_identity = ?
				`, chatID, gameID); err != nil {
					return fmt.Errorf("recording requester: %w", err)
				}
				existing.ChatID = chatID
			}
			pending = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("finding pending authorization: %w", err)
		}

		var requester any
		if chatID != "" {
			requester = chatID
		}
		// Ensure uniqueness by retrying on conflict
		for attempt := 0; attempt < codeAttempts; attempt++ {
			code := generateCode()
			_, err := tx.ExecContext(ctx, `
				INSERT INTO pending_authorizations (game_identity, code, chat_identity, created_at)
				VALUES (?, ?, ?, ?)
			`, gameID, code, requester, formatTimestamp(now))
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("inserting pending authorization: %w", err)
			}
			pending = &domain.PendingAuthorization{
				GameID:    gameID,
				Code:      code,
				ChatID:    chatID,
				CreatedAt: parseTimestamp(formatTimestamp(now)),
			}
			created = true
			return nil
		}
		return fmt.Errorf("failed to generate unique code after %d attempts", codeAttempts)
	})
	if err != nil {
		return nil, false, err
	}
	return pending, created, nil
}

func (s *Store) pendingBy(ctx context.Context, column, value string) (*domain.PendingAuthorization, bool, error) {
	p, err := scanPending(s.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_authorizations
		WHERE `+column+` = ? AND created_at > ?
	`, value, s.pendingCutoff()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("finding pending authorization: %w", err)
	}
	return p, true, nil
}

// PendingByGame looks up the pending authorization for a game identity
func (s *Store) PendingByGame(ctx context.Context, gameID string) (*domain.PendingAuthorization, bool, error) {
	return s.pendingBy(ctx, "game_identity", gameID)
}

// PendingByCode looks up the pending authorization holding code
func (s *Store) PendingByCode(ctx context.Context, code string) (*domain.PendingAuthorization, bool, error) {
	return s.pendingBy(ctx, "code", code)
}

// PendingByChat looks up the pending authorization last requested by chatID
func (s *Store) PendingByChat(ctx context.Context, chatID string) (*domain.PendingAuthorization, bool, error) {
	return s.pendingBy(ctx, "chat_identity", chatID)
}

// Redeem consumes code and returns its game identity. The lookup and the
// delete are one statement, so a code is redeemed at most once.
func (s *Store) Redeem(ctx context.Context, code string) (string, bool, error) {
	var gameID string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM pending_authorizations WHERE code = ? AND created_at > ?
		RETURNING game_identity
	`, code, s.pendingCutoff()).Scan(&gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redeeming code: %w", err)
	}
	return gameID, true, nil
}

// RedeemAndLink consumes code and links its game identity to chatID in a
// single transaction. Other requests made by chatID are dropped with it. On a link conflict nothing changes and the code
// stays redeemable. An unknown code yields domain.ErrInvalidCode.
func (s *Store) RedeemAndLink(ctx context.Context, code, chatID string) (*domain.AccountLink, error) {
	now := s.now()
	var link *domain.AccountLink
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var gameID string
		err := tx.QueryRowContext(ctx, `
			SELECT game_identity FROM pending_authorizations WHERE code = ? AND created_at > ?
		`, code, s.pendingCutoff()).Scan(&gameID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrInvalidCode
		}
		if err != nil {
			return fmt.Errorf("finding code: %w", err)
		}

		if err := linkConflict(ctx, tx, chatID, gameID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pending_authorizations WHERE code = ? OR chat_identity = ?
		`, code, chatID); err != nil {
			return fmt.Errorf("consuming code: %w", err)
		}
		if err := insertLink(ctx, tx, chatID, gameID, formatTimestamp(now)); err != nil {
			return err
		}
		link = &domain.AccountLink{ChatID: chatID, GameID: gameID, CreatedAt: parseTimestamp(formatTimestamp(now))}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// CleanupExpiredPending removes expired pending authorizations
func (s *Store) CleanupExpiredPending(ctx context.Context) (int64, error) {
	if s.pendingTTL <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_authorizations WHERE created_at <= ?
	`, s.pendingCutoff())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
