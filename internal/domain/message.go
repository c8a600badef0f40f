// Package domain contains core domain types for screenpilot.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message typed by the device owner.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an internal system note.
	RoleSystem Role = "system"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleSystem:
		return RoleSystem, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// ChatMessage is one immutable entry of a session's conversation log.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryItem is a remembered fact owned by the persistence service.
type MemoryItem struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultMemoryCategory is used when the model omits a category.
const DefaultMemoryCategory = "general"
