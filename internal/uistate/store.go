// File: internal/uistate/store.go

// Package uistate persists the small key/value and list state behind the
// HUD: UI layout options, tutorial task completion, tutorial update
// notifications and the new-changelog flag. Backed by SQLite so the state
// survives restarts.
package uistate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrInvalidKey is returned for option keys outside 1-50 alphanumeric
// characters. Callers surface it as an illegal-parameter condition.
var ErrInvalidKey = errors.New("invalid option key")

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,50}$`)

// ValidateKey checks an option key against the allowed shape.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// newChangelogKey is an internal option; it is not reachable through the
// public key validation because of the underscore.
const newChangelogKey = "internal_new_changelog"

// Store is the SQLite-backed state store.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the state database at path and runs migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing database handle and runs migrations.
func New(db *sql.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db, log: logger.Named("uistate")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetUIOption stores an option value. The key must be 1-50 alphanumeric
// characters.
func (s *Store) SetUIOption(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.setRaw(key, value)
}

// UIOption returns the stored value for key, or "" when unset. The key is
// validated the same way as on write.
func (s *Store) UIOption(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return s.getRaw(key)
}

func (s *Store) setRaw(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO ui_options (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("storing option %q: %w", key, err)
	}
	return nil
}

func (s *Store) getRaw(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM ui_options WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading option %q: %w", key, err)
	}
	return value, nil
}

// CompleteTutorialTask records a finished tutorial task.
func (s *Store) CompleteTutorialTask(name string) error {
	_, err := s.db.Exec(
		`INSERT INTO tutorial_tasks (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("recording tutorial task %q: %w", name, err)
	}
	return nil
}

// TutorialTaskDone reports whether a task has been completed.
func (s *Store) TutorialTaskDone(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM tutorial_tasks WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("reading tutorial task %q: %w", name, err)
	}
	return n > 0, nil
}

// ResetTutorialTasks clears all recorded task progress.
func (s *Store) ResetTutorialTasks() error {
	if _, err := s.db.Exec(`DELETE FROM tutorial_tasks`); err != nil {
		return fmt.Errorf("resetting tutorial tasks: %w", err)
	}
	return nil
}

// AddTutorialUpdate records a tutorial update notification for the views
// surface to list.
func (s *Store) AddTutorialUpdate(name string) error {
	_, err := s.db.Exec(
		`INSERT INTO tutorial_updates (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("recording tutorial update %q: %w", name, err)
	}
	return nil
}

// TutorialUpdates lists pending tutorial update notifications in insertion
// order.
func (s *Store) TutorialUpdates() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM tutorial_updates ORDER BY added_at, name`)
	if err != nil {
		return nil, fmt.Errorf("listing tutorial updates: %w", err)
	}
	defer rows.Close()

	updates := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning tutorial update: %w", err)
		}
		updates = append(updates, name)
	}
	return updates, rows.Err()
}

// SetNewChangelog flags that an unseen changelog exists.
func (s *Store) SetNewChangelog() error {
	return s.setRaw(newChangelogKey, "1")
}

// HasNewChangelog reports whether an unseen changelog exists.
func (s *Store) HasNewChangelog() (bool, error) {
	v, err := s.getRaw(newChangelogKey)
	return v == "1", err
}

// ClearNewChangelog clears the flag after the changelog is served.
func (s *Store) ClearNewChangelog() error {
	return s.setRaw(newChangelogKey, "")
}
