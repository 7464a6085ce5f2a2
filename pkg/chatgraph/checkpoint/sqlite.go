package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls
	// and serializes the stale-step check with the insert.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			next_node TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (thread_id, step)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ThreadID == "" {
		return ErrThreadIDRequired
	}

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(step) FROM checkpoints WHERE thread_id = ?
	`, cp.ThreadID).Scan(&latest); err != nil {
		return fmt.Errorf("read latest step: %w", err)
	}
	if latest.Valid && int64(cp.Step) <= latest.Int64 {
		return fmt.Errorf("%w: step %d, latest %d", ErrStaleStep, cp.Step, latest.Int64)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, step, node_id, next_node, timestamp, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.ThreadID, cp.Step, cp.NodeID, cp.NextNode, cp.Timestamp.Format(time.RFC3339Nano), data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// SetNextNode implements Store.
func (s *SQLiteStore) SetNextNode(ctx context.Context, threadID string, step int, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var data []byte
	err = tx.QueryRowContext(ctx, `
		SELECT data FROM checkpoints WHERE thread_id = ? AND step = ?
	`, threadID, step).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return err
	}
	cp.NextNode = next
	if data, err = cp.Marshal(); err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE checkpoints SET next_node = ?, data = ? WHERE thread_id = ? AND step = ?
	`, next, data, threadID, step); err != nil {
		return fmt.Errorf("update next node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit next node: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	return s.queryOne(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`, threadID)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, threadID string, step int) (*Checkpoint, error) {
	return s.queryOne(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = ? AND step = ?
	`, threadID, step)
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return Unmarshal(data)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, node_id, next_node, timestamp, LENGTH(data)
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY step
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var info Info
		var timestamp string
		if err := rows.Scan(&info.Step, &info.NodeID, &info.NextNode, &timestamp, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		info.ThreadID = threadID
		info.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	return infos, nil
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE thread_id = ?
	`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
