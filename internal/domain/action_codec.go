package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned when decoding an action with an unknown type.
var ErrUnknownAction = errors.New("unknown action type")

var actionDecoders = map[ActionKind]func([]byte) (Action, error){
	KindRespond:         decodeAs[Respond],
	KindClarify:         decodeAs[Clarify],
	KindComplete:        decodeAs[Complete],
	KindClick:           decodeAs[Click],
	KindType:            decodeAs[Type],
	KindScroll:          decodeAs[Scroll],
	KindBack:            decodeAs[Back],
	KindHome:            decodeAs[Home],
	KindOpenApp:         decodeAs[OpenApp],
	KindWait:            decodeAs[Wait],
	KindOpenCalendar:    decodeAs[OpenCalendar],
	KindDialNumber:      decodeAs[DialNumber],
	KindCallNumber:      decodeAs[CallNumber],
	KindSendSMS:         decodeAs[SendSMS],
	KindOpenURL:         decodeAs[OpenURL],
	KindWebSearch:       decodeAs[WebSearch],
	KindSetAlarm:        decodeAs[SetAlarm],
	KindSetTimer:        decodeAs[SetTimer],
	KindShareText:       decodeAs[ShareText],
	KindCopyToClipboard: decodeAs[CopyToClipboard],
	KindSendEmail:       decodeAs[SendEmail],
	KindOpenMaps:        decodeAs[OpenMaps],
	KindPlayMedia:       decodeAs[PlayMedia],
	KindCaptureMedia:    decodeAs[CaptureMedia],
	KindOpenSettings:    decodeAs[OpenSettings],
}

func decodeAs[T Action](data []byte) (Action, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeAction parses a `{"type": "<kind>", ...}` object.
func DecodeAction(data []byte) (Action, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	kind := ActionKind(strings.ToLower(strings.TrimSpace(head.Type)))
	decode, ok := actionDecoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, head.Type)
	}
	a, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s action: %w", kind, err)
	}
	return a, nil
}

// EncodeAction renders a as a `{"type": "<kind>", ...}` object.
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, errors.New("encode action: nil action")
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s action: %w", a.Kind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s action: %w", a.Kind(), err)
	}
	kind, _ := json.Marshal(a.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

// ActionPlan is an ordered sequence of actions with a JSON array encoding.
// Entries of unknown type are dropped on decode.
type ActionPlan []Action

// MarshalJSON implements json.Marshaler.
func (p ActionPlan) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(p))
	for _, a := range p {
		b, err := EncodeAction(a)
		if err != nil {
			return nil, err
		}
		raws = append(raws, b)
	}
	return json.Marshal(raws)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ActionPlan) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("decode action plan: %w", err)
	}
	plan := make(ActionPlan, 0, len(raws))
	for _, raw := range raws {
		a, err := DecodeAction(raw)
		if errors.Is(err, ErrUnknownAction) {
			continue
		}
		if err != nil {
			return err
		}
		plan = append(plan, a)
	}
	*p = plan
	return nil
}

// FirstResponse returns the message of the first Respond in the plan.
func (p ActionPlan) FirstResponse() (string, bool) {
	for _, a := range p {
		if r, ok := a.(Respond); ok {
			return r.Message, true
		}
	}
	return "", false
}
