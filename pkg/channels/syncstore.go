package channels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"
)

// SyncStoreFile is the database file created inside the store directory.
const SyncStoreFile = "otcbot.db"

// SQLiteSyncStore persists the sync filter and next-batch token so a
// restart resumes where the previous run stopped.
type SQLiteSyncStore struct {
	db *sql.DB
}

var _ mautrix.SyncStore = (*SQLiteSyncStore)(nil)

// OpenSyncStore opens (creating if needed) the store in dir.
func OpenSyncStore(ctx context.Context, dir string) (*SQLiteSyncStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, SyncStoreFile))
	if err != nil {
		return nil, fmt.Errorf("open sync store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSyncStore{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSyncStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sync_state (
		user_id    TEXT PRIMARY KEY,
		filter_id  TEXT NOT NULL DEFAULT '',
		next_batch TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("init sync store: %w", err)
	}
	return nil
}

func (s *SQLiteSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (user_id, filter_id) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET filter_id = excluded.filter_id`,
		userID.String(), filterID)
	return err
}

func (s *SQLiteSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, "filter_id", userID)
}

func (s *SQLiteSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (user_id, next_batch) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET next_batch = excluded.next_batch`,
		userID.String(), nextBatchToken)
	return err
}

func (s *SQLiteSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, "next_batch", userID)
}

// load reads one column; column is never user input.
func (s *SQLiteSyncStore) load(ctx context.Context, column string, userID id.UserID) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT "+column+" FROM sync_state WHERE user_id = ?", userID.String()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLiteSyncStore) Close() error {
	return s.db.Close()
}
