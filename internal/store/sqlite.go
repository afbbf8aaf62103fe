package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lettagram/lettagram/internal/domain"
	"github.com/lettagram/lettagram/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		user_id TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		api_url TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_agents (
		chat_id INTEGER PRIMARY KEY,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shortcuts (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_shortcuts_user ON shortcuts(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetCredential retrieves the encrypted credential record for a user.
func (s *SQLiteStore) GetCredential(ctx context.Context, userID string) (*domain.CredentialRecord, error) {
	query := `
		SELECT user_id, ciphertext, nonce, api_url, created_at, updated_at
		FROM credentials WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var rec domain.CredentialRecord
	var createdAt, updatedAt int64

	err := row.Scan(&rec.UserID, &rec.Ciphertext, &rec.Nonce, &rec.APIURL, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan credential row: %v", ErrUnavailable, err)
	}

	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// PutCredential creates or replaces a user's credential record.
func (s *SQLiteStore) PutCredential(ctx context.Context, rec *domain.CredentialRecord) error {
	query := `
	INSERT INTO credentials (user_id, ciphertext, nonce, api_url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		ciphertext = excluded.ciphertext,
		nonce = excluded.nonce,
		api_url = excluded.api_url,
		updated_at = excluded.updated_at`

	return s.execWithRetry(ctx, "put credential", query,
		rec.UserID, rec.Ciphertext, rec.Nonce, rec.APIURL,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
}

// DeleteCredential removes a user's credential record. Idempotent.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID string) error {
	return s.execWithRetry(ctx, "delete credential",
		`DELETE FROM credentials WHERE user_id = ?`, userID)
}

// GetAgent retrieves the agent selection for a chat.
func (s *SQLiteStore) GetAgent(ctx context.Context, chatID int64) (*domain.AgentSelection, error) {
	query := `
		SELECT chat_id, agent_id, agent_name, project_id, updated_at
		FROM chat_agents WHERE chat_id = ?`

	row := s.db.QueryRowContext(ctx, query, chatID)

	var sel domain.AgentSelection
	var updatedAt int64

	err := row.Scan(&sel.ChatID, &sel.AgentID, &sel.AgentName, &sel.ProjectID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan chat agent row: %v", ErrUnavailable, err)
	}

	sel.UpdatedAt = time.Unix(updatedAt, 0)

	return &sel, nil
}

// SetAgent creates or replaces a chat's agent selection.
func (s *SQLiteStore) SetAgent(ctx context.Context, sel *domain.AgentSelection) error {
	query := `
	INSERT INTO chat_agents (chat_id, agent_id, agent_name, project_id, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		agent_id = excluded.agent_id,
		agent_name = excluded.agent_name,
		project_id = excluded.project_id,
		updated_at = excluded.updated_at`

	return s.execWithRetry(ctx, "set chat agent", query,
		sel.ChatID, sel.AgentID, sel.AgentName, sel.ProjectID, sel.UpdatedAt.Unix())
}

// ClearAgent removes a chat's agent selection. Idempotent.
func (s *SQLiteStore) ClearAgent(ctx context.Context, chatID int64) error {
	return s.execWithRetry(ctx, "clear chat agent",
		`DELETE FROM chat_agents WHERE chat_id = ?`, chatID)
}

// ListShortcuts returns a user's shortcuts in creation order.
func (s *SQLiteStore) ListShortcuts(ctx context.Context, userID string) ([]*domain.Shortcut, error) {
	query := `
		SELECT user_id, name, agent_id, agent_name, created_at
		FROM shortcuts WHERE user_id = ? ORDER BY created_at, name`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: query shortcuts: %v", ErrUnavailable, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close shortcut rows", "error", closeErr)
		}
	}()

	var shortcuts []*domain.Shortcut
	for rows.Next() {
		var sc domain.Shortcut
		var createdAt int64
		if err := rows.Scan(&sc.UserID, &sc.Name, &sc.AgentID, &sc.AgentName, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan shortcut row: %v", ErrUnavailable, err)
		}
		sc.CreatedAt = time.Unix(createdAt, 0)
		shortcuts = append(shortcuts, &sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate shortcuts: %v", ErrUnavailable, err)
	}

	return shortcuts, nil
}

// GetShortcut retrieves one shortcut by exact name.
func (s *SQLiteStore) GetShortcut(ctx context.Context, userID, name string) (*domain.Shortcut, error) {
	query := `
		SELECT user_id, name, agent_id, agent_name, created_at
		FROM shortcuts WHERE user_id = ? AND name = ?`

	row := s.db.QueryRowContext(ctx, query, userID, name)

	var sc domain.Shortcut
	var createdAt int64

	err := row.Scan(&sc.UserID, &sc.Name, &sc.AgentID, &sc.AgentName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan shortcut row: %v", ErrUnavailable, err)
	}

	sc.CreatedAt = time.Unix(createdAt, 0)

	return &sc, nil
}

// SetShortcut creates or replaces a shortcut. Upsert by name; the
// original created_at survives an overwrite so listing order is stable.
func (s *SQLiteStore) SetShortcut(ctx context.Context, sc *domain.Shortcut) error {
	query := `
	INSERT INTO shortcuts (user_id, name, agent_id, agent_name, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, name) DO UPDATE SET
		agent_id = excluded.agent_id,
		agent_name = excluded.agent_name`

	return s.execWithRetry(ctx, "set shortcut", query,
		sc.UserID, sc.Name, sc.AgentID, sc.AgentName, sc.CreatedAt.Unix())
}

// DeleteShortcut removes a shortcut, reporting whether it existed.
func (s *SQLiteStore) DeleteShortcut(ctx context.Context, userID, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM shortcuts WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return false, fmt.Errorf("%w: delete shortcut: %v", ErrUnavailable, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete shortcut rows affected: %v", ErrUnavailable, err)
	}
	return rows > 0, nil
}

// execWithRetry runs a write statement, retrying with exponential backoff
// when SQLite reports a concurrency conflict (SQLITE_BUSY / locked).
func (s *SQLiteStore) execWithRetry(ctx context.Context, op, query string, args ...any) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		_, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		lastErr = err

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("sqlite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, ctx.Err())
			}
			continue
		}
		break
	}

	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, lastErr)
}
