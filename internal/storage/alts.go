package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ernie/mcauth/internal/domain"
)

// --- Alt account methods ---

// AddAlt whitelists gameID as an alt named name, owned by owner. Fails with
// a *domain.ConflictError when the identity or the name is already stored.
func (s *Store) AddAlt(ctx context.Context, owner, gameID, name string) (*domain.AltAccount, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT game_identity FROM alts WHERE game_identity = ? OR display_name = ?
		`, gameID, name)
		if err != nil {
			return fmt.Errorf("checking alts: %w", err)
		}
		side := domain.ConflictSide("")
		for rows.Next() {
			var existing string
			if err := rows.Scan(&existing); err != nil {
				rows.Close()
				return err
			}
			if existing == gameID {
				side = domain.SideGame
				break
			}
			side = domain.SideName
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("checking alts: %w", err)
		}
		rows.Close()
		if side != "" {
			return &domain.ConflictError{Kind: domain.ConflictAlt, Side: side}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alts (owner, game_identity, display_name) VALUES (?, ?, ?)
		`, owner, gameID, name); err != nil {
			return fmt.Errorf("inserting alt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.AltAccount{Owner: owner, GameID: gameID, Name: name}, nil
}

// RemoveAlt deletes the alt with the given display name (case-insensitive)
func (s *Store) RemoveAlt(ctx context.Context, name string) (*domain.AltAccount, bool, error) {
	alt, err := scanAlt(s.db.QueryRowContext(ctx, `
		DELETE FROM alts WHERE display_name = ?
		RETURNING owner, game_identity, display_name
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("removing alt: %w", err)
	}
	return alt, true, nil
}

// IsAlt checks if a game identity is a whitelisted alt
func (s *Store) IsAlt(ctx context.Context, gameID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alts WHERE game_identity = ?
	`, gameID).Scan(&count)
	return count > 0, err
}

// ListAlts returns the alts of owner, or every alt when owner is empty
func (s *Store) ListAlts(ctx context.Context, owner string) ([]domain.AltAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, game_identity, display_name FROM alts
		WHERE owner = ? OR ? = ''
		ORDER BY owner, display_name
	`, owner, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alts := []domain.AltAccount{}
	for rows.Next() {
		alt, err := scanAlt(rows)
		if err != nil {
			return nil, err
		}
		alts = append(alts, *alt)
	}
	return alts, rows.Err()
}
