// Package preference persists the selected service and the context handed
// over from the page menu.
package preference

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const keySelectedService = "selected_service"

// PendingContext is what the page menu stored for the next ask.
type PendingContext struct {
	Selection string    `json:"selection,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a sqlite-backed preference store.
type Store struct {
	db         *sql.DB
	defaultKey string
	now        func() time.Time
}

// Open migrates and opens the database at path. defaultKey is returned by
// SelectedService until a preference is saved.
func Open(path, defaultKey string) (*Store, error) {
	if err := runMigrations(path); err != nil {
		return nil, storeError("migrate preference store", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, storeError("open preference store", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		closeQuietly(db, path)
		return nil, storeError("open preference store", err)
	}

	slog.Info("preference store opened", "path", path)
	return &Store{db: db, defaultKey: defaultKey, now: time.Now}, nil
}

func runMigrations(path string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Debug("preference migrator close failed", "path", path, "source_error", srcErr, "db_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SelectedService returns the stored service key, or the default.
func (s *Store) SelectedService(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, keySelectedService).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultKey, nil
	}
	if err != nil {
		return "", storeError("read selected service", err)
	}
	return value, nil
}

func (s *Store) SetSelectedService(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keySelectedService, key, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return storeError("save selected service", err)
	}
	slog.Debug("preference saved", "service", key)
	return nil
}

// SavePendingContext replaces any previously stored context.
func (s *Store) SavePendingContext(ctx context.Context, pc PendingContext) error {
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = s.now()
	}
	var selection sql.NullString
	if pc.Selection != "" {
		selection = sql.NullString{String: pc.Selection, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_context (id, selection, url, created_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET selection = excluded.selection, url = excluded.url, created_at = excluded.created_at`,
		selection, pc.URL, pc.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeError("save pending context", err)
	}
	return nil
}

// PendingContext returns the stored context, if any.
func (s *Store) PendingContext(ctx context.Context) (PendingContext, bool, error) {
	var (
		selection sql.NullString
		pc        PendingContext
		created   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT selection, url, created_at FROM pending_context WHERE id = 1`).Scan(&selection, &pc.URL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingContext{}, false, nil
	}
	if err != nil {
		return PendingContext{}, false, storeError("read pending context", err)
	}
	pc.Selection = selection.String
	pc.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return PendingContext{}, false, storeError("parse pending context time", err)
	}
	return pc, true, nil
}

func (s *Store) ClearPendingContext(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_context WHERE id = 1`); err != nil {
		return storeError("clear pending context", err)
	}
	return nil
}

// closeQuietly releases a handle on an error path, where the original error
// is the one worth returning.
func closeQuietly(c io.Closer, path string) {
	if err := c.Close(); err != nil {
		slog.Debug("preference store close failed", "path", path, "error", err)
	}
}

func storeError(msg string, err error) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodePreferenceStore, Message: msg, Cause: err}
}
