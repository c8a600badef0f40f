// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/ashureev/screenpilot/internal/domain"
)

// ErrSettingNotFound is returned by GetSetting for an unknown key.
var ErrSettingNotFound = errors.New("setting not found")

// Repository persists chat messages, memories and settings.
type Repository interface {
	MemoryStore

	// AppendMessage stores msg. Messages with an existing ID are ignored.
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error

	// SessionMessages returns the messages of a session ordered by timestamp.
	SessionMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)

	// Subscribe yields the stored messages of a session and then every
	// message appended afterwards, until ctx is done.
	Subscribe(ctx context.Context, sessionID string) iter.Seq2[domain.ChatMessage, error]

	// DeleteMessagesBefore removes messages older than cutoff.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetSetting returns the value stored under key or ErrSettingNotFound.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting creates or replaces a setting.
	SetSetting(ctx context.Context, key, value string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// MemoryStore persists long-term memory items.
type MemoryStore interface {
	// Remember creates or replaces the memory stored under item.Key.
	Remember(ctx context.Context, item domain.MemoryItem) error

	// ContextMemories returns up to limit memories, most recent first.
	ContextMemories(ctx context.Context, limit int) ([]domain.MemoryItem, error)
}

// WithMemories returns repo with its memory operations served by mem.
func WithMemories(repo Repository, mem MemoryStore) Repository {
	return &memoryOverlay{Repository: repo, mem: mem}
}

type memoryOverlay struct {
	Repository
	mem MemoryStore
}

func (m *memoryOverlay) Remember(ctx context.Context, item domain.MemoryItem) error {
	return m.mem.Remember(ctx, item)
}

func (m *memoryOverlay) ContextMemories(ctx context.Context, limit int) ([]domain.MemoryItem, error) {
	return m.mem.ContextMemories(ctx, limit)
}
