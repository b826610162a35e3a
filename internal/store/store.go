// Package store backs the TARGET STORE/RESTORE events and the page's
// last_words buffer with a small `modernc.org/sqlite` table keyed by
// segment token, supplementing spec.md §3.3 (which lists STORE/RESTORE
// but leaves their persistence mechanism unspecified) per
// original_source/src/shmif/arcan_shmif_control.c's arcan_shmif_last_words.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists one opaque state blob and one last_words string per
// segment token.
type Store struct {
	db *sql.DB
}

// Open creates/opens the sqlite database at path and ensures its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS segments (
		token      INTEGER PRIMARY KEY,
		state      BLOB,
		last_words TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveState implements the STORE side: the client's opaque state blob
// (in the original C implementation, delivered as a descriptor pointing
// at a temp file) is written here keyed by segment_token, a descriptor
// read out into memory by the caller before calling SaveState.
func (s *Store) SaveState(token uint32, blob []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO segments (token, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(token) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, token, blob)
	if err != nil {
		return fmt.Errorf("store: save state for token %d: %w", token, err)
	}
	return nil
}

// LoadState implements the RESTORE side, returning (nil, false) when no
// state has been saved for token.
func (s *Store) LoadState(token uint32) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT state FROM segments WHERE token = ?`, token).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load state for token %d: %w", token, err)
	}
	return blob, true, nil
}

// SaveLastWords records the client's voluntary-exit message (spec.md
// §3.1 Prefix.LastWords) for post-mortem inspection.
func (s *Store) SaveLastWords(token uint32, words string) error {
	_, err := s.db.Exec(`
		INSERT INTO segments (token, last_words, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(token) DO UPDATE SET last_words = excluded.last_words, updated_at = excluded.updated_at
	`, token, words)
	if err != nil {
		return fmt.Errorf("store: save last_words for token %d: %w", token, err)
	}
	return nil
}

// LastWords returns the most recently recorded last_words for token.
func (s *Store) LastWords(token uint32) (string, bool, error) {
	var words sql.NullString
	err := s.db.QueryRow(`SELECT last_words FROM segments WHERE token = ?`, token).Scan(&words)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: load last_words for token %d: %w", token, err)
	}
	return words.String, words.Valid, nil
}

// UpdatedAt returns when token's row was last touched, for diagnostics.
func (s *Store) UpdatedAt(token uint32) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRow(`SELECT updated_at FROM segments WHERE token = ?`, token).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: load updated_at for token %d: %w", token, err)
	}
	return ts, true, nil
}
