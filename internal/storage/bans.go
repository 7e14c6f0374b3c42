package storage

import (
	"context"
	"fmt"
)

// --- Ban methods ---

// Ban bars chatID from the linking system. added is false when the
// identity was already banned.
func (s *Store) Ban(ctx context.Context, chatID string) (added bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (chat_identity, created_at) VALUES (?, ?)
		ON CONFLICT (chat_identity) DO NOTHING
	`, chatID, formatTimestamp(s.now()))
	if err != nil {
		return false, fmt.Errorf("banning: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Pardon lifts a ban. removed is false when chatID was not banned.
func (s *Store) Pardon(ctx context.Context, chatID string) (removed bool, err error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE chat_identity = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("pardoning: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// IsBanned checks if chatID is banned
func (s *Store) IsBanned(ctx context.Context, chatID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bans WHERE chat_identity = ?
	`, chatID).Scan(&count)
	return count > 0, err
}

// ListBans returns every banned chat identity
func (s *Store) ListBans(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_identity FROM bans ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
