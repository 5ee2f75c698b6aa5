package authstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmylchreest/autobrowse/internal/logger"
)

// SQLiteStore keeps profiles and credentials in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS auth_profiles (
		name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		service TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*State, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM auth_profiles WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", name, err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", name, err)
	}
	return &st, nil
}

// Save implements Store. A zero SavedAt is stored as the current time;
// state itself is not modified.
func (s *SQLiteStore) Save(ctx context.Context, name string, state *State) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if state == nil {
		return errors.New("nil auth state")
	}
	stamped := *state
	if stamped.SavedAt.IsZero() {
		stamped.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_profiles (name, state, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at`,
		name, string(data), stamped.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", name, err)
	}
	logger.Debug("auth profile saved", "profile", name, "store", "sqlite", "cookies", len(state.Cookies))
	return nil
}

// HasValid implements Store using the saved_at column only.
func (s *SQLiteStore) HasValid(ctx context.Context, name string, maxAge time.Duration) bool {
	if ValidateName(name) != nil {
		return false
	}
	var savedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM auth_profiles WHERE name = ?`, name).Scan(&savedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Debug("auth profile lookup failed", "profile", name, "error", err)
		}
		return false
	}
	st := &State{SavedAt: time.UnixMilli(savedAt)}
	return st.Fresh(maxAge, time.Now())
}

// Credentials implements Store.
func (s *SQLiteStore) Credentials(ctx context.Context, service string) (Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password, email FROM credentials WHERE service = ?`, service).
		Scan(&c.Username, &c.Password, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, fmt.Errorf("%w: %s", ErrNoCredentials, service)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to load credentials for %s: %w", service, err)
	}
	return c, nil
}

// SetCredentials adds or replaces the credentials for service.
func (s *SQLiteStore) SetCredentials(ctx context.Context, service string, c Credentials) error {
	if err := ValidateName(service); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (service, username, password, email) VALUES (?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			username = excluded.username, password = excluded.password, email = excluded.email`,
		service, c.Username, c.Password, c.Email)
	if err != nil {
		return fmt.Errorf("failed to save credentials for %s: %w", service, err)
	}
	return nil
}

// Profiles lists saved profile names, newest first.
func (s *SQLiteStore) Profiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM auth_profiles ORDER BY saved_at DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
