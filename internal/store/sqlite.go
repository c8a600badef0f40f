package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	watchMu  sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a message is being written.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS memories (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		category TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
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

// AppendMessage stores msg and wakes the session's subscribers.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	if msg.ID == "" || msg.SessionID == "" {
		return errors.New("append message: id and session id are required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	query := `
	INSERT INTO messages (id, session_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "append message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.Timestamp.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	s.notify(msg.SessionID)
	return nil
}

// SessionMessages returns the messages of a session ordered by timestamp.
func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	query := `
		SELECT seq, id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, seq`

	msgs, _, err := s.queryMessages(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	return msgs, nil
}

// Subscribe yields every stored message of the session in append order and
// then waits for new ones until ctx is done.
func (s *SQLiteStore) Subscribe(ctx context.Context, sessionID string) iter.Seq2[domain.ChatMessage, error] {
	return func(yield func(domain.ChatMessage, error) bool) {
		wake, stop := s.watch(sessionID)
		defer stop()

		query := `
			SELECT seq, id, session_id, role, content, created_at
			FROM messages WHERE session_id = ? AND seq > ?
			ORDER BY seq`

		var last int64
		for {
			msgs, seq, err := s.queryMessages(ctx, query, sessionID, last)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(domain.ChatMessage{}, fmt.Errorf("query new messages: %w", err))
				return
			}
			for _, m := range msgs {
				if !yield(m, nil) {
					return
				}
			}
			if seq > last {
				last = seq
			}

			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
		}
	}
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]domain.ChatMessage, int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var (
		msgs    []domain.ChatMessage
		lastSeq int64
	)
	for rows.Next() {
		var (
			m         domain.ChatMessage
			seq       int64
			role      string
			createdAt int64
		)
		if err := rows.Scan(&seq, &m.ID, &m.SessionID, &role, &m.Content, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.Timestamp = time.UnixMilli(createdAt).UTC()
		msgs = append(msgs, m)
		if seq > lastSeq {
			lastSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, lastSeq, nil
}

func (s *SQLiteStore) watch(sessionID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	set, ok := s.watchers[sessionID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.watchers[sessionID] = set
	}
	set[ch] = struct{}{}
	s.watchMu.Unlock()

	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(set, ch)
		if len(set) == 0 {
			delete(s.watchers, sessionID)
		}
	}
}

func (s *SQLiteStore) notify(sessionID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// DeleteMessagesBefore removes messages older than cutoff.
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete messages", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return affected, nil
}

// Remember creates or replaces the memory stored under item.Key.
func (s *SQLiteStore) Remember(ctx context.Context, item domain.MemoryItem) error {
	if item.Key == "" {
		return errors.New("remember: key is required")
	}
	if item.Category == "" {
		item.Category = domain.DefaultMemoryCategory
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}

	query := `
	INSERT INTO memories (key, value, category, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		category = excluded.category,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "remember", func() error {
		_, err := s.db.ExecContext(ctx, query, item.Key, item.Value, item.Category, item.Timestamp.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("remember %q: %w", item.Key, err)
	}
	return nil
}

// ContextMemories returns up to limit memories, most recently updated first.
func (s *SQLiteStore) ContextMemories(ctx context.Context, limit int) ([]domain.MemoryItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT key, value, category, updated_at
		FROM memories ORDER BY updated_at DESC, key LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close memory rows", "error", closeErr)
		}
	}()

	var items []domain.MemoryItem
	for rows.Next() {
		var (
			item      domain.MemoryItem
			updatedAt int64
		)
		if err := rows.Scan(&item.Key, &item.Value, &item.Category, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		item.Timestamp = time.UnixMilli(updatedAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return items, nil
}

// GetSetting returns the value stored under key.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, ErrSettingNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting creates or replaces a setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "set setting", func() error {
		_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
