package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ernie/mcauth/internal/domain"
)

// --- Account link methods ---

// ResolveGameID returns the game identity linked to chatID
func (s *Store) ResolveGameID(ctx context.Context, chatID string) (string, bool, error) {
	var gameID string
	err := s.db.QueryRowContext(ctx, `
		SELECT game_identity FROM account_links WHERE chat_identity = ?
	`, chatID).Scan(&gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving game identity: %w", err)
	}
	return gameID, true, nil
}

// ResolveChatID returns the chat identity linked to gameID
func (s *Store) ResolveChatID(ctx context.Context, gameID string) (string, bool, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_identity FROM account_links WHERE game_identity = ?
	`, gameID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving chat identity: %w", err)
	}
	return chatID, true, nil
}

// CheckLink reports whether chatID and gameID could be linked right now.
// It returns a *domain.ConflictError when either side is taken.
func (s *Store) CheckLink(ctx context.Context, chatID, gameID string) error {
	return linkConflict(ctx, s.db, chatID, gameID)
}

// linkConflict classifies existing links that touch either identity
func linkConflict(ctx context.Context, q querier, chatID, gameID string) error {
	rows, err := q.QueryContext(ctx, `
		SELECT chat_identity, game_identity FROM account_links
		WHERE chat_identity = ? OR game_identity = ?
	`, chatID, gameID)
	if err != nil {
		return fmt.Errorf("checking links: %w", err)
	}
	defer rows.Close()

	chatTaken, gameTaken := false, false
	for rows.Next() {
		var c, g string
		if err := rows.Scan(&c, &g); err != nil {
			return err
		}
		if c == chatID && g == gameID {
			return &domain.ConflictError{Kind: domain.ConflictLink, Side: domain.SideBoth}
		}
		if c == chatID {
			chatTaken = true
		}
		if g == gameID {
			gameTaken = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	switch {
	case chatTaken:
		return &domain.ConflictError{Kind: domain.ConflictLink, Side: domain.SideChat, GameTaken: gameTaken}
	case gameTaken:
		return &domain.ConflictError{Kind: domain.ConflictLink, Side: domain.SideGame}
	}
	return nil
}

func insertLink(ctx context.Context, q querier, chatID, gameID string, now string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO account_links (chat_identity, game_identity, created_at) VALUES (?, ?, ?)
	`, chatID, gameID, now)
	if err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

// CreateLink commits a link. The conflict check and the insert share one
// transaction.
func (s *Store) CreateLink(ctx context.Context, chatID, gameID string) (*domain.AccountLink, error) {
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := linkConflict(ctx, tx, chatID, gameID); err != nil {
			return err
		}
		return insertLink(ctx, tx, chatID, gameID, formatTimestamp(now))
	})
	if err != nil {
		return nil, err
	}
	return &domain.AccountLink{ChatID: chatID, GameID: gameID, CreatedAt: parseTimestamp(formatTimestamp(now))}, nil
}

// RemoveLinkByChat unlinks chatID and clears every pending authorization
// tied to it or to the game identity it was linked with.
func (s *Store) RemoveLinkByChat(ctx context.Context, chatID string) (*domain.AccountLink, bool, error) {
	return s.removeLink(ctx, "chat_identity", chatID)
}

// RemoveLinkByGame unlinks gameID, clearing pending state like RemoveLinkByChat
func (s *Store) RemoveLinkByGame(ctx context.Context, gameID string) (*domain.AccountLink, bool, error) {
	return s.removeLink(ctx, "game_identity", gameID)
}

// removeLink deletes the link whose column equals value. column is never
// user input.
func (s *Store) removeLink(ctx context.Context, column, value string) (*domain.AccountLink, bool, error) {
	var removed *domain.AccountLink
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		link, err := scanLink(tx.QueryRowContext(ctx, `
			SELECT chat_identity, game_identity, created_at FROM account_links WHERE `+column+` = ?
		`, value))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finding link: %w", err)
		}

		chatID, gameID := "", ""
		if column == "chat_identity" {
			chatID = value
		} else {
			gameID = value
		}
		if link != nil {
			chatID, gameID = link.ChatID, link.GameID
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM account_links WHERE chat_identity = ?
			`, link.ChatID); err != nil {
				return fmt.Errorf("deleting link: %w", err)
			}
			removed = link
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pending_authorizations
			WHERE (chat_identity = ? AND ? != '') OR game_identity = ?
		`, chatID, chatID, gameID); err != nil {
			return fmt.Errorf("clearing pending authorizations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return removed, removed != nil, nil
}

// ListLinks returns every link ordered by creation time
func (s *Store) ListLinks(ctx context.Context) ([]domain.AccountLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_identity, game_identity, created_at FROM account_links
		ORDER BY created_at, chat_identity
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.AccountLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}
