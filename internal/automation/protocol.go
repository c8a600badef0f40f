// Package automation links the core to the on-device automation agent over
// a WebSocket and fans out its service state to registered listeners.
package automation

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/screenpilot/internal/domain"
)

// Message types of the device protocol.
const (
	msgCaptureScreen = "capture_screen"
	msgExecuteAction = "execute_action"
	msgScreen        = "screen"
	msgActionResult  = "action_result"
	msgServiceState  = "service_state"
	msgError         = "error"
	msgPing          = "ping"
	msgPong          = "pong"
)

// Result statuses reported by the device.
const (
	StatusSuccess           = "success"
	StatusFailure           = "failure"
	StatusNeedsConfirmation = "needs_confirmation"
)

// wireMessage is the envelope exchanged with the device agent.
type wireMessage struct {
	ID      string              `json:"id,omitempty"`
	Type    string              `json:"type"`
	Action  json.RawMessage     `json:"action,omitempty"`
	Screen  *domain.ScreenState `json:"screen,omitempty"`
	Result  *wireResult         `json:"result,omitempty"`
	Running *bool               `json:"running,omitempty"`
	Overlay *bool               `json:"overlay,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type wireResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r wireResult) toDomain() (domain.ActionResult, error) {
	switch r.Status {
	case StatusSuccess:
		return domain.Success{Description: r.Message}, nil
	case StatusFailure:
		return domain.Failure{Reason: r.Message}, nil
	case StatusNeedsConfirmation:
		return domain.NeedsConfirmation{Reason: r.Message}, nil
	default:
		return nil, fmt.Errorf("unknown result status %q", r.Status)
	}
}

// Listener is notified when the device reports its service state.
type Listener interface {
	OnServiceState(running, overlay bool)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(running, overlay bool)

// OnServiceState implements Listener.
func (f ListenerFunc) OnServiceState(running, overlay bool) { f(running, overlay) }
