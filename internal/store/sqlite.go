package store

import (
	"database/sql"
	"time"

	"github.com/lox/cityweather/internal/models"
)

// Store is a SQLite-backed preference backend and lookup log.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

func (s *Store) RecordLookup(l models.Lookup) error {
	if l.LookedUpAt.IsZero() {
		l.LookedUpAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO lookups (query, canonical_name, success, failure_kind, message, looked_up_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.Query, nullString(l.CanonicalName), l.Success, nullString(l.FailureKind), nullString(l.Message), l.LookedUpAt)
	return err
}

// RecentLookups returns up to limit lookups, newest first. A limit of zero
// or less means DefaultLookupLimit.
func (s *Store) RecentLookups(limit int) ([]models.Lookup, error) {
	limit = lookupLimit(limit)
	rows, err := s.db.Query(`
		SELECT id, query, canonical_name, success, failure_kind, message, looked_up_at
		FROM lookups
		ORDER BY looked_up_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lookups []models.Lookup
	for rows.Next() {
		var l models.Lookup
		var canonical, kind, message sql.NullString
		if err := rows.Scan(&l.ID, &l.Query, &canonical, &l.Success, &kind, &message, &l.LookedUpAt); err != nil {
			return nil, err
		}
		l.CanonicalName = canonical.String
		l.FailureKind = kind.String
		l.Message = message.String
		lookups = append(lookups, l)
	}
	return lookups, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
