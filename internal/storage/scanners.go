package storage

import (
	"database/sql"

	"github.com/ernie/mcauth/internal/domain"
)

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*domain.AccountLink, error) {
	var l domain.AccountLink
	var createdAt string
	if err := row.Scan(&l.ChatID, &l.GameID, &createdAt); err != nil {
		return nil, err
	}
	l.CreatedAt = parseTimestamp(createdAt)
	return &l, nil
}

func scanPending(row scanner) (*domain.PendingAuthorization, error) {
	var p domain.PendingAuthorization
	var chatID sql.NullString
	var createdAt string
	if err := row.Scan(&p.GameID, &p.Code, &chatID, &createdAt); err != nil {
		return nil, err
	}
	p.ChatID = scanNullStringValue(chatID)
	p.CreatedAt = parseTimestamp(createdAt)
	return &p, nil
}

func scanAlt(row scanner) (*domain.AltAccount, error) {
	var a domain.AltAccount
	if err := row.Scan(&a.Owner, &a.GameID, &a.Name); err != nil {
		return nil, err
	}
	return &a, nil
}
