// Package conversation coordinates a chat turn: persistence, recall,
// generation, plan execution and the shared UI flags.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/screenpilot/internal/action"
	"github.com/ashureev/screenpilot/internal/automation"
	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/inference"
	"github.com/ashureev/screenpilot/internal/recall"
	"github.com/ashureev/screenpilot/internal/state"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// ApologyMessage is the reply used when a turn fails.
const ApologyMessage = "Sorry, something went wrong while handling that. Please try again."

const (
	defaultMemoryWindow  = 10
	defaultHistoryWindow = 20
)

// Store persists messages and memories.
type Store interface {
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	SessionMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Remember(ctx context.Context, item domain.MemoryItem) error
	ContextMemories(ctx context.Context, limit int) ([]domain.MemoryItem, error)
}

// Responder answers a conversational turn. *inference.Engine satisfies it.
type Responder interface {
	GenerateResponse(ctx context.Context, req inference.ResponseRequest) (*inference.Response, error)
}

// PlanRunner executes an action plan. *action.Executor satisfies it.
type PlanRunner interface {
	Execute(ctx context.Context, plan []domain.Action) ([]action.Outcome, error)
}

// ListenerRegistry delivers automation service state changes.
type ListenerRegistry interface {
	Register(l automation.Listener) (unregister func())
}

// Indexer receives every message for later recall.
type Indexer interface {
	AddMessage(msg domain.ChatMessage) error
}

// Deps are the collaborators of an Orchestrator. Screens, Registry, Indexer
// and ConvLog are optional.
type Deps struct {
	Store     Store
	Responder Responder
	Plans     PlanRunner
	Recall    recall.Service
	Screens   inference.ScreenSource
	Registry  ListenerRegistry
	Indexer   Indexer
	ConvLog   ConversationLogger
	UI        *state.Cell[domain.UIState]
	Logger    *slog.Logger
}

// Orchestrator handles the chat turns of one session.
type Orchestrator struct {
	// Conversation is the ordered message log of the session.
	Conversation *state.Cell[[]domain.ChatMessage]

	sessionID  string
	deps       Deps
	logger     *slog.Logger
	unregister func()

	sendMu sync.Mutex
}

// New creates an orchestrator for sessionID and registers it for automation
// service state updates until Close.
func New(sessionID string, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ConvLog == nil {
		deps.ConvLog = noopConversationLogger{}
	}
	if deps.UI == nil {
		deps.UI = state.NewCell(domain.UIState{})
	}
	o := &Orchestrator{
		Conversation: state.NewCell[[]domain.ChatMessage](nil),
		sessionID:    sessionID,
		deps:         deps,
		logger:       deps.Logger.With("session_id", sessionID),
	}
	if deps.Registry != nil {
		o.unregister = deps.Registry.Register(o)
	}
	return o
}

// SessionID returns the session the orchestrator serves.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Load replaces the conversation with the persisted history.
func (o *Orchestrator) Load(ctx context.Context) error {
	msgs, err := o.deps.Store.SessionMessages(ctx, o.sessionID)
	if err != nil {
		return fmt.Errorf("load session messages: %w", err)
	}
	o.Conversation.Set(msgs)
	if o.deps.Indexer != nil {
		for _, m := range msgs {
			if err := o.deps.Indexer.AddMessage(m); err != nil {
				o.logger.Warn("failed to index message", "message_id", m.ID, "error", err)
			}
		}
	}
	return nil
}

// Close unregisters from the automation service.
func (o *Orchestrator) Close() {
	if o.unregister != nil {
		o.unregister()
		o.unregister = nil
	}
}

// OnServiceState implements automation.Listener.
func (o *Orchestrator) OnServiceState(running, overlay bool) {
	o.deps.UI.Update(func(u domain.UIState) domain.UIState {
		u.ServiceRunning = running
		u.OverlayEnabled = overlay
		return u
	})
}

// Send handles one user turn and returns the assistant reply. Failures are
// turned into an apology reply; only blank input returns an error.
func (o *Orchestrator) Send(ctx context.Context, text string) (reply domain.ChatMessage, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}

	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	o.setThinking(true)
	defer o.setThinking(false)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("chat turn panicked", "panic", r)
			reply = o.appendMessage(ctx, domain.RoleAssistant, ApologyMessage)
			err = nil
		}
	}()

	o.appendMessage(ctx, domain.RoleUser, text)

	var content string
	switch c := recall.Classify(text); c.Kind {
	case recall.Recall:
		content, err = o.recall(ctx, c.Text)
	default:
		content, err = o.generate(ctx, text)
	}
	if err != nil {
		o.logger.Warn("chat turn failed", "error", err)
		content = ApologyMessage
	}
	return o.appendMessage(ctx, domain.RoleAssistant, content), nil
}

func (o *Orchestrator) recall(ctx context.Context, query string) (string, error) {
	if o.deps.Recall == nil {
		return "", errors.New("recall service not configured")
	}
	res, err := o.deps.Recall.SmartRecall(ctx, query)
	if err != nil {
		return "", fmt.Errorf("smart recall: %w", err)
	}
	o.logger.Info("recall answered", "query_len", len(query), "semantic", res.UsedSemanticSearch)
	return recall.Format(res), nil
}

func (o *Orchestrator) generate(ctx context.Context, text string) (string, error) {
	var screen *domain.ScreenState
	if o.deps.Screens != nil {
		s, err := o.deps.Screens.CaptureScreen(ctx)
		if err != nil {
			o.logger.Debug("screen capture unavailable", "error", err)
		} else {
			screen = s
		}
	}

	memories, err := o.deps.Store.ContextMemories(ctx, defaultMemoryWindow)
	if err != nil {
		o.logger.Warn("failed to load memories", "error", err)
		memories = nil
	}

	history := o.Conversation.Get()
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	if len(history) > defaultHistoryWindow {
		history = history[len(history)-defaultHistoryWindow:]
	}

	resp, err := o.deps.Responder.GenerateResponse(ctx, inference.ResponseRequest{
		Message:  text,
		Screen:   screen,
		History:  history,
		Memories: memories,
	})
	if err != nil {
		return "", fmt.Errorf("generate response: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate response: empty response")
	}

	for _, item := range resp.MemoryUpdates {
		if item.Category == "" {
			item.Category = domain.DefaultMemoryCategory
		}
		if item.Timestamp.IsZero() {
			item.Timestamp = time.Now().UTC()
		}
		if err := o.deps.Store.Remember(ctx, item); err != nil {
			o.logger.Warn("failed to store memory", "key", item.Key, "error", err)
		}
	}

	if len(resp.Actions) > 0 && o.deps.Plans != nil {
		outcomes, err := o.deps.Plans.Execute(ctx, resp.Actions)
		if err != nil {
			return "", fmt.Errorf("execute plan: %w", err)
		}
		o.logger.Info("plan executed", "steps", len(outcomes))
	}

	o.deps.UI.Update(func(u domain.UIState) domain.UIState {
		u.TotalTokens += int64(resp.TokensUsed)
		u.LastInferenceMs = resp.InferenceTimeMs
		return u
	})

	if msg, ok := resp.Actions.FirstResponse(); ok && strings.TrimSpace(msg) != "" {
		return msg, nil
	}
	return resp.Text, nil
}

// appendMessage adds a message to the log and persists it. A persistence
// failure is logged; the message stays in the log.
func (o *Orchestrator) appendMessage(ctx context.Context, role domain.Role, content string) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: o.sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	o.Conversation.Update(func(cur []domain.ChatMessage) []domain.ChatMessage {
		next := make([]domain.ChatMessage, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, msg)
	})

	if err := o.deps.Store.AppendMessage(ctx, msg); err != nil {
		o.logger.Error("failed to persist message", "role", role, "error", err)
	}
	if o.deps.Indexer != nil {
		if err := o.deps.Indexer.AddMessage(msg); err != nil {
			o.logger.Warn("failed to index message", "error", err)
		}
	}

	direction := "inbound"
	if role == domain.RoleAssistant {
		direction = "outbound"
	}
	o.deps.ConvLog.Log(LogEvent{
		Timestamp:  msg.Timestamp.Format(time.RFC3339Nano),
		SessionID:  o.sessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  "chat_" + string(role) + "_message",
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       map[string]any{"message_id": msg.ID},
	})
	return msg
}

func (o *Orchestrator) setThinking(v bool) {
	o.deps.UI.Update(func(u domain.UIState) domain.UIState {
		u.IsThinking = v
		return u
	})
}
