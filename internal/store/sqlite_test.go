package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/screenpilot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "screenpilot.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msgAt(id, session string, role domain.Role, content string, ts time.Time) domain.ChatMessage {
	return domain.ChatMessage{ID: id, SessionID: session, Role: role, Content: content, Timestamp: ts}
}

func TestSQLiteStore_Messages(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := []domain.ChatMessage{
		msgAt("m2", "s1", domain.RoleAssistant, "hello", base.Add(time.Second)),
		msgAt("m1", "s1", domain.RoleUser, "hi", base),
		msgAt("x1", "s2", domain.RoleUser, "other session", base),
	}
	for _, m := range in {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage(%s) error = %v", m.ID, err)
		}
	}
	// Duplicate IDs are ignored.
	if err := s.AppendMessage(ctx, msgAt("m1", "s1", domain.RoleUser, "changed", base)); err != nil {
		t.Fatalf("AppendMessage(duplicate) error = %v", err)
	}

	got, err := s.SessionMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionMessages() error = %v", err)
	}
	want := []domain.ChatMessage{in[1], in[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SessionMessages() mismatch (-want +got):\n%s", diff)
	}

	if err := s.AppendMessage(ctx, domain.ChatMessage{SessionID: "s1"}); err == nil {
		t.Error("AppendMessage() without ID succeeded")
	}
}

func TestSQLiteStore_DeleteMessagesBefore(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.AppendMessage(ctx, msgAt("old", "s", domain.RoleUser, "a", now.Add(-48*time.Hour)))
	_ = s.AppendMessage(ctx, msgAt("new", "s", domain.RoleUser, "b", now))

	n, err := s.DeleteMessagesBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteMessagesBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	left, _ := s.SessionMessages(ctx, "s")
	if len(left) != 1 || left[0].ID != "new" {
		t.Errorf("remaining = %+v", left)
	}
}

func TestSQLiteStore_Memories(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Remember(ctx, domain.MemoryItem{Key: "name", Value: "Ada", Timestamp: base})
	_ = s.Remember(ctx, domain.MemoryItem{Key: "city", Value: "Turin", Category: "places", Timestamp: base.Add(time.Minute)})
	_ = s.Remember(ctx, domain.MemoryItem{Key: "name", Value: "Ada L.", Timestamp: base.Add(2 * time.Minute)})

	got, err := s.ContextMemories(ctx, 10)
	if err != nil {
		t.Fatalf("ContextMemories() error = %v", err)
	}
	want := []domain.MemoryItem{
		{Key: "name", Value: "Ada L.", Category: domain.DefaultMemoryCategory, Timestamp: base.Add(2 * time.Minute)},
		{Key: "city", Value: "Turin", Category: "places", Timestamp: base.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ContextMemories() mismatch (-want +got):\n%s", diff)
	}

	one, _ := s.ContextMemories(ctx, 1)
	if len(one) != 1 || one[0].Key != "name" {
		t.Errorf("ContextMemories(1) = %+v", one)
	}
	if err := s.Remember(ctx, domain.MemoryItem{Value: "x"}); err == nil {
		t.Error("Remember() without key succeeded")
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "cloud_model"); !errors.Is(err, ErrSettingNotFound) {
		t.Fatalf("GetSetting() error = %v, want ErrSettingNotFound", err)
	}
	_ = s.SetSetting(ctx, "cloud_model", "fast")
	_ = s.SetSetting(ctx, "cloud_model", "smart")
	v, err := s.GetSetting(ctx, "cloud_model")
	if err != nil || v != "smart" {
		t.Fatalf("GetSetting() = %q, %v", v, err)
	}
}

func TestSQLiteStore_Subscribe(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()

	_ = s.AppendMessage(ctx, msgAt("a", "s", domain.RoleUser, "first", now))

	got := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m, err := range s.Subscribe(ctx, "s") {
			if err != nil {
				t.Errorf("Subscribe() error = %v", err)
				return
			}
			got <- m.ID
			if m.ID == "c" {
				return
			}
		}
	}()

	if id := <-got; id != "a" {
		t.Fatalf("first = %q, want a", id)
	}
	_ = s.AppendMessage(ctx, msgAt("b", "s", domain.RoleAssistant, "second", now.Add(time.Second)))
	_ = s.AppendMessage(ctx, msgAt("other", "t", domain.RoleUser, "ignored", now))
	_ = s.AppendMessage(ctx, msgAt("c", "s", domain.RoleUser, "third", now.Add(2*time.Second)))

	for _, want := range []string{"b", "c"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("got %q, want %q", id, want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	<-done

	s.watchMu.Lock()
	n := len(s.watchers)
	s.watchMu.Unlock()
	if n != 0 {
		t.Errorf("watchers left registered: %d", n)
	}
}

func TestWithMemories(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mem := &recordingMemories{}
	repo := WithMemories(s, mem)

	_ = repo.Remember(context.Background(), domain.MemoryItem{Key: "k", Value: "v"})
	if len(mem.items) != 1 {
		t.Fatalf("overlay not used: %+v", mem.items)
	}
	if own, _ := s.ContextMemories(context.Background(), 5); len(own) != 0 {
		t.Errorf("sqlite memories written: %+v", own)
	}
}

type recordingMemories struct {
	items []domain.MemoryItem
}

func (r *recordingMemories) Remember(_ context.Context, item domain.MemoryItem) error {
	r.items = append(r.items, item)
	return nil
}

func (r *recordingMemories) ContextMemories(context.Context, int) ([]domain.MemoryItem, error) {
	return r.items, nil
}

func TestRedisMemories(t *testing.T) {
	addr := os.Getenv("SCREENPILOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCREENPILOT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "screenpilot-test:" + t.Name() + ":" + time.Now().Format("150405.000") + ":"
	r, err := NewRedisMemories(ctx, addr, "", prefix)
	if err != nil {
		t.Fatalf("NewRedisMemories() error = %v", err)
	}
	t.Cleanup(func() {
		_ = r.client.Del(ctx, r.indexKey(), r.itemKey("a"), r.itemKey("b")).Err()
		_ = r.Close()
	})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = r.Remember(ctx, domain.MemoryItem{Key: "a", Value: "1", Timestamp: base})
	_ = r.Remember(ctx, domain.MemoryItem{Key: "b", Value: "2", Category: "x", Timestamp: base.Add(time.Second)})

	got, err := r.ContextMemories(ctx, 5)
	if err != nil {
		t.Fatalf("ContextMemories() error = %v", err)
	}
	want := []domain.MemoryItem{
		{Key: "b", Value: "2", Category: "x", Timestamp: base.Add(time.Second)},
		{Key: "a", Value: "1", Category: domain.DefaultMemoryCategory, Timestamp: base},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ContextMemories() mismatch (-want +got):\n%s", diff)
	}
}
