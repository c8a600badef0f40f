package cloud

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var errNotFound = errors.New("not found")

type memSettings struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals == nil {
		m.vals = make(map[string]string)
	}
	m.vals[key] = value
	return nil
}

func TestParseModel(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"fast", " Smart ", "BALANCED"} {
		if _, err := ParseModel(in); err != nil {
			t.Errorf("ParseModel(%q) error = %v", in, err)
		}
	}
	if _, err := ParseModel("turbo"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("ParseModel(turbo) error = %v, want ErrUnknownModel", err)
	}
	if got := Model("bogus").APIName(); got != DefaultModel.APIName() {
		t.Errorf("APIName() fallback = %q", got)
	}
}

func TestSelection_Persistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	settings := &memSettings{}

	s := NewSelection(settings)
	if err := s.Load(ctx); !errors.Is(err, errNotFound) {
		t.Fatalf("Load() error = %v, want not found", err)
	}
	if s.Current() != DefaultModel {
		t.Fatalf("Current() = %q, want default", s.Current())
	}
	if err := s.Set(ctx, ModelSmart); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, Model("turbo")); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("Set(turbo) error = %v", err)
	}

	restored := NewSelection(settings)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if restored.Current() != ModelSmart {
		t.Errorf("restored = %q, want smart", restored.Current())
	}

	_ = settings.SetSetting(ctx, settingKey, "garbage")
	third := NewSelection(settings)
	if err := third.Load(ctx); err != nil || third.Current() != DefaultModel {
		t.Errorf("Load(garbage) = %v, current %q", err, third.Current())
	}
}
