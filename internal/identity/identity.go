// Package identity provides the persisted device session identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/ashureev/screenpilot/internal/store"
)

// SessionHeaderName echoes the session ID on every API response.
const SessionHeaderName = "X-ScreenPilot-Session-ID"

const sessionSettingKey = "session_id"

type contextKey int

const sessionIDKey contextKey = iota

// Settings is the persistence EnsureSessionID needs.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// EnsureSessionID returns the device session ID, creating and persisting
// one on first run.
func EnsureSessionID(ctx context.Context, settings Settings) (string, error) {
	id, err := settings.GetSetting(ctx, sessionSettingKey)
	if err == nil {
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
	} else if !errors.Is(err, store.ErrSettingNotFound) {
		return "", fmt.Errorf("read session id: %w", err)
	}

	id = uuid.NewString()
	if err := settings.SetSetting(ctx, sessionSettingKey, id); err != nil {
		return "", fmt.Errorf("save session id: %w", err)
	}
	return id, nil
}

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns ctx carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Middleware injects the device session ID into every request.
func Middleware(sessionID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(SessionHeaderName, sessionID)
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
