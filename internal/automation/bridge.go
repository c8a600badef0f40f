package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/screenpilot/internal/domain"
)

// Sentinel errors.
var (
	ErrNoDevice           = errors.New("no automation device connected")
	ErrDeviceDisconnected = errors.New("automation device disconnected")
)

// DefaultRequestTimeout bounds a single device round trip.
const DefaultRequestTimeout = 10 * time.Second

// Bridge talks to the single connected device agent. A new connection
// replaces the previous one.
type Bridge struct {
	timeout       time.Duration
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wireMessage

	lmu       sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
	running   bool
	overlay   bool
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	RequestTimeout time.Duration
	AllowedOrigin  string
	IsDev          bool
	Logger         *slog.Logger
}

// NewBridge creates a bridge with no device attached.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		timeout:       cfg.RequestTimeout,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		logger:        cfg.Logger,
		pending:       make(map[string]chan wireMessage),
		listeners:     make(map[uint64]Listener),
	}
}

// Register adds l and immediately delivers the current service state. The
// returned func removes l.
func (b *Bridge) Register(l Listener) func() {
	b.lmu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	running, overlay := b.running, b.overlay
	b.lmu.Unlock()

	l.OnServiceState(running, overlay)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lmu.Lock()
			delete(b.listeners, id)
			b.lmu.Unlock()
		})
	}
}

// Connected reports whether a device is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// CaptureScreen asks the device for the current screen.
func (b *Bridge) CaptureScreen(ctx context.Context) (*domain.ScreenState, error) {
	resp, err := b.request(ctx, wireMessage{Type: msgCaptureScreen})
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	if resp.Screen == nil {
		return nil, errors.New("capture screen: device returned no screen")
	}
	return resp.Screen, nil
}

// ExecuteAction performs a on the device. Transport problems are reported as
// a Failure result.
func (b *Bridge) ExecuteAction(ctx context.Context, a domain.Action) domain.ActionResult {
	raw, err := domain.EncodeAction(a)
	if err != nil {
		return domain.Failure{Reason: err.Error()}
	}
	resp, err := b.request(ctx, wireMessage{Type: msgExecuteAction, Action: raw})
	if err != nil {
		return domain.Failure{Reason: err.Error()}
	}
	if resp.Result == nil {
		return domain.Failure{Reason: "device returned no result"}
	}
	result, err := resp.Result.toDomain()
	if err != nil {
		return domain.Failure{Reason: err.Error()}
	}
	return result
}

func (b *Bridge) request(ctx context.Context, msg wireMessage) (wireMessage, error) {
	msg.ID = uuid.NewString()
	ch := make(chan wireMessage, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return wireMessage{}, ErrNoDevice
	}
	b.pending[msg.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := writeJSON(ctx, conn, msg); err != nil {
		return wireMessage{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return wireMessage{}, ErrDeviceDisconnected
		}
		if resp.Type == msgError {
			return wireMessage{}, fmt.Errorf("device error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return wireMessage{}, ctx.Err()
	}
}

// ServeHTTP accepts the device agent connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		b.logger.Error("[BRIDGE] failed to accept websocket", "error", err)
		return
	}
	ws.SetReadLimit(8 << 20)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "device session ended"); closeErr != nil {
			b.logger.Debug("[BRIDGE] failed to close websocket", "error", closeErr)
		}
	}()

	b.attach(ws)
	defer b.detach(ws)

	b.readLoop(r.Context(), ws)
}

func (b *Bridge) attach(ws *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn != ws {
		_ = b.conn.Close(websocket.StatusNormalClosure, "device replaced")
		b.failPendingLocked()
	}
	b.conn = ws
	b.logger.Info("[BRIDGE] device connected")
}

func (b *Bridge) detach(ws *websocket.Conn) {
	b.mu.Lock()
	if b.conn != ws {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.failPendingLocked()
	b.mu.Unlock()

	b.logger.Info("[BRIDGE] device disconnected")
	b.setServiceState(false, false)
}

func (b *Bridge) failPendingLocked() {
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
}

func (b *Bridge) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				b.logger.Debug("[BRIDGE] websocket closed by device")
			} else if ctx.Err() == nil {
				b.logger.Warn("[BRIDGE] websocket read error", "error", err)
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("[BRIDGE] invalid device message", "error", err)
			continue
		}

		switch msg.Type {
		case msgServiceState:
			running, overlay := b.serviceState()
			if msg.Running != nil {
				running = *msg.Running
			}
			if msg.Overlay != nil {
				overlay = *msg.Overlay
			}
			b.setServiceState(running, overlay)
		case msgPing:
			if err := writeJSON(ctx, ws, wireMessage{Type: msgPong}); err != nil {
				b.logger.Debug("[BRIDGE] failed to send pong", "error", err)
			}
		case msgScreen, msgActionResult, msgError:
			b.deliver(msg)
		default:
			b.logger.Debug("[BRIDGE] ignoring message", "type", msg.Type)
		}
	}
}

func (b *Bridge) deliver(msg wireMessage) {
	b.mu.Lock()
	ch, ok := b.pending[msg.ID]
	if ok {
		delete(b.pending, msg.ID)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("[BRIDGE] response for unknown request", "id", msg.ID, "type", msg.Type)
		return
	}
	ch <- msg
}

func (b *Bridge) serviceState() (bool, bool) {
	b.lmu.RLock()
	defer b.lmu.RUnlock()
	return b.running, b.overlay
}

func (b *Bridge) setServiceState(running, overlay bool) {
	b.lmu.Lock()
	b.running, b.overlay = running, overlay
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.lmu.Unlock()

	for _, l := range listeners {
		l.OnServiceState(running, overlay)
	}
}

func (b *Bridge) checkOrigin(r *http.Request) bool {
	if b.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || b.allowedOrigin == "*" || origin == b.allowedOrigin {
		return true
	}
	b.logger.Warn("[BRIDGE] websocket origin rejected", "origin", origin, "allowed", b.allowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
