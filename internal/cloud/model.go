// Package cloud holds the hosted model selection.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrUnknownModel is returned when parsing an unsupported model name.
var ErrUnknownModel = errors.New("unknown cloud model")

// Model is a hosted model tier.
type Model string

// Supported tiers.
const (
	ModelFast     Model = "fast"
	ModelBalanced Model = "balanced"
	ModelSmart    Model = "smart"
)

// DefaultModel is used until the user picks one.
const DefaultModel = ModelBalanced

// Models lists every tier in display order.
var Models = []Model{ModelFast, ModelBalanced, ModelSmart}

var apiNames = map[Model]string{
	ModelFast:     "gpt-4.1-nano",
	ModelBalanced: "gpt-4.1-mini",
	ModelSmart:    "gpt-4.1",
}

// ParseModel accepts a tier name in any case.
func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := apiNames[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
	return m, nil
}

// APIName is the provider model identifier.
func (m Model) APIName() string {
	if name, ok := apiNames[m]; ok {
		return name
	}
	return apiNames[DefaultModel]
}

// settingKey stores the selected tier.
const settingKey = "cloud_model"

// Settings is the persistence the selection needs. *store.SQLiteStore
// satisfies it.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Selection is the persisted cloud model choice.
type Selection struct {
	settings Settings

	mu      sync.RWMutex
	current Model
}

// NewSelection returns a selection at DefaultModel. Call Load to restore the
// persisted choice.
func NewSelection(settings Settings) *Selection {
	return &Selection{settings: settings, current: DefaultModel}
}

// Load restores the persisted choice. A missing or invalid value keeps the
// default.
func (s *Selection) Load(ctx context.Context) error {
	v, err := s.settings.GetSetting(ctx, settingKey)
	if err != nil {
		return fmt.Errorf("load cloud model: %w", err)
	}
	m, err := ParseModel(v)
	if err != nil {
		slog.Warn("ignoring stored cloud model", "value", v, "error", err)
		return nil
	}
	s.mu.Lock()
	s.current = m
	s.mu.Unlock()
	return nil
}

// Current returns the selected tier.
func (s *Selection) Current() Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set persists and applies m.
func (s *Selection) Set(ctx context.Context, m Model) error {
	if _, ok := apiNames[m]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, m)
	}
	if err := s.settings.SetSetting(ctx, settingKey, string(m)); err != nil {
		return fmt.Errorf("save cloud model: %w", err)
	}
	s.mu.Lock()
	s.current = m
	s.mu.Unlock()
	return nil
}
