package domain

import (
	"fmt"
	"strings"
)

// ActionKind is the wire discriminator of an Action.
type ActionKind string

// Action kinds.
const (
	KindRespond         ActionKind = "respond"
	KindClarify         ActionKind = "clarify"
	KindComplete        ActionKind = "complete"
	KindClick           ActionKind = "click"
	KindType            ActionKind = "type"
	KindScroll          ActionKind = "scroll"
	KindBack            ActionKind = "back"
	KindHome            ActionKind = "home"
	KindOpenApp         ActionKind = "open_app"
	KindWait            ActionKind = "wait"
	KindOpenCalendar    ActionKind = "open_calendar"
	KindDialNumber      ActionKind = "dial_number"
	KindCallNumber      ActionKind = "call_number"
	KindSendSMS         ActionKind = "send_sms"
	KindOpenURL         ActionKind = "open_url"
	KindWebSearch       ActionKind = "web_search"
	KindSetAlarm        ActionKind = "set_alarm"
	KindSetTimer        ActionKind = "set_timer"
	KindShareText       ActionKind = "share_text"
	KindCopyToClipboard ActionKind = "copy_to_clipboard"
	KindSendEmail       ActionKind = "send_email"
	KindOpenMaps        ActionKind = "open_maps"
	KindPlayMedia       ActionKind = "play_media"
	KindCaptureMedia    ActionKind = "capture_media"
	KindOpenSettings    ActionKind = "open_settings"
)

// Action is a single step the assistant wants performed. The set of
// implementations is closed; see the Kind* constants.
type Action interface {
	Kind() ActionKind
	// Describe returns a short human-readable status line.
	Describe() string
	action()
}

// IsConversational reports whether a carries only text for the user and
// must not be sent to the automation service.
func IsConversational(a Action) bool {
	switch a.(type) {
	case Respond, Clarify, Complete:
		return true
	default:
		return false
	}
}

// Respond is a plain reply to the user.
type Respond struct {
	Message string `json:"message"`
}

// Clarify asks the user a follow-up question.
type Clarify struct {
	Question string `json:"question"`
}

// Complete marks the end of a plan.
type Complete struct {
	Summary string `json:"summary,omitempty"`
}

// Click taps the element identified by Target.
type Click struct {
	Target string `json:"target"`
}

// Type enters Text into the element identified by Target, or the focused
// field when Target is empty.
type Type struct {
	Target string `json:"target,omitempty"`
	Text   string `json:"text"`
}

// ScrollDirection is the direction of a Scroll.
type ScrollDirection string

// Scroll directions.
const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Scroll scrolls the screen or the element identified by Target.
type Scroll struct {
	Direction ScrollDirection `json:"direction"`
	Target    string          `json:"target,omitempty"`
}

// Back presses the system back button.
type Back struct{}

// Home returns to the launcher.
type Home struct{}

// OpenApp launches an app by package name or label.
type OpenApp struct {
	App string `json:"app"`
}

// Wait pauses the plan.
type Wait struct {
	Millis int `json:"millis"`
}

// OpenCalendar opens the calendar, optionally creating an event.
type OpenCalendar struct {
	Title string `json:"title,omitempty"`
	Start string `json:"start,omitempty"`
}

// DialNumber opens the dialer pre-filled with Number.
type DialNumber struct {
	Number string `json:"number"`
}

// CallNumber places a call to Number.
type CallNumber struct {
	Number string `json:"number"`
}

// SendSMS composes a text message.
type SendSMS struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

// OpenURL opens a link in the browser.
type OpenURL struct {
	URL string `json:"url"`
}

// WebSearch runs a browser search.
type WebSearch struct {
	Query string `json:"query"`
}

// SetAlarm creates an alarm at Hour:Minute.
type SetAlarm struct {
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Label  string `json:"label,omitempty"`
}

// SetTimer starts a countdown.
type SetTimer struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label,omitempty"`
}

// ShareText opens the share sheet with Text.
type ShareText struct {
	Text string `json:"text"`
}

// CopyToClipboard places Text on the clipboard.
type CopyToClipboard struct {
	Text string `json:"text"`
}

// SendEmail composes an email.
type SendEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// OpenMaps opens maps at Query or navigates to it.
type OpenMaps struct {
	Query    string `json:"query"`
	Navigate bool   `json:"navigate,omitempty"`
}

// PlayMedia plays a track, artist, or playlist.
type PlayMedia struct {
	Query string `json:"query"`
}

// CaptureMedia opens the camera.
type CaptureMedia struct {
	Video bool `json:"video,omitempty"`
}

// OpenSettings opens a system settings page.
type OpenSettings struct {
	Section string `json:"section,omitempty"`
}

func (Respond) action()         {}
func (Clarify) action()         {}
func (Complete) action()        {}
func (Click) action()           {}
func (Type) action()            {}
func (Scroll) action()          {}
func (Back) action()            {}
func (Home) action()            {}
func (OpenApp) action()         {}
func (Wait) action()            {}
func (OpenCalendar) action()    {}
func (DialNumber) action()      {}
func (CallNumber) action()      {}
func (SendSMS) action()         {}
func (OpenURL) action()         {}
func (WebSearch) action()       {}
func (SetAlarm) action()        {}
func (SetTimer) action()        {}
func (ShareText) action()       {}
func (CopyToClipboard) action() {}
func (SendEmail) action()       {}
func (OpenMaps) action()        {}
func (PlayMedia) action()       {}
func (CaptureMedia) action()    {}
func (OpenSettings) action()    {}

func (Respond) Kind() ActionKind         { return KindRespond }
func (Clarify) Kind() ActionKind         { return KindClarify }
func (Complete) Kind() ActionKind        { return KindComplete }
func (Click) Kind() ActionKind           { return KindClick }
func (Type) Kind() ActionKind            { return KindType }
func (Scroll) Kind() ActionKind          { return KindScroll }
func (Back) Kind() ActionKind            { return KindBack }
func (Home) Kind() ActionKind            { return KindHome }
func (OpenApp) Kind() ActionKind         { return KindOpenApp }
func (Wait) Kind() ActionKind            { return KindWait }
func (OpenCalendar) Kind() ActionKind    { return KindOpenCalendar }
func (DialNumber) Kind() ActionKind      { return KindDialNumber }
func (CallNumber) Kind() ActionKind      { return KindCallNumber }
func (SendSMS) Kind() ActionKind         { return KindSendSMS }
func (OpenURL) Kind() ActionKind         { return KindOpenURL }
func (WebSearch) Kind() ActionKind       { return KindWebSearch }
func (SetAlarm) Kind() ActionKind        { return KindSetAlarm }
func (SetTimer) Kind() ActionKind        { return KindSetTimer }
func (ShareText) Kind() ActionKind       { return KindShareText }
func (CopyToClipboard) Kind() ActionKind { return KindCopyToClipboard }
func (SendEmail) Kind() ActionKind       { return KindSendEmail }
func (OpenMaps) Kind() ActionKind        { return KindOpenMaps }
func (PlayMedia) Kind() ActionKind       { return KindPlayMedia }
func (CaptureMedia) Kind() ActionKind    { return KindCaptureMedia }
func (OpenSettings) Kind() ActionKind    { return KindOpenSettings }

func (a Respond) Describe() string  { return "Responding" }
func (a Clarify) Describe() string  { return "Asking for clarification" }
func (a Complete) Describe() string { return "Done" }
func (a Click) Describe() string    { return "Tapping " + quoteOr(a.Target, "element") }
func (a Type) Describe() string {
	if a.Target == "" {
		return "Typing " + truncate(a.Text, 30)
	}
	return fmt.Sprintf("Typing %s into %s", truncate(a.Text, 30), quoteOr(a.Target, "field"))
}
func (a Scroll) Describe() string { return "Scrolling " + string(a.Direction) }
func (a Back) Describe() string   { return "Going back" }
func (a Home) Describe() string   { return "Going home" }
func (a OpenApp) Describe() string {
	return "Opening " + quoteOr(a.App, "app")
}
func (a Wait) Describe() string { return fmt.Sprintf("Waiting %dms", a.Millis) }
func (a OpenCalendar) Describe() string {
	if a.Title != "" {
		return "Creating event " + quoteOr(a.Title, "")
	}
	return "Opening calendar"
}
func (a DialNumber) Describe() string { return "Dialing " + a.Number }
func (a CallNumber) Describe() string { return "Calling " + a.Number }
func (a SendSMS) Describe() string    { return "Texting " + a.Number }
func (a OpenURL) Describe() string    { return "Opening " + a.URL }
func (a WebSearch) Describe() string  { return "Searching for " + quoteOr(a.Query, "") }
func (a SetAlarm) Describe() string   { return fmt.Sprintf("Setting alarm for %02d:%02d", a.Hour, a.Minute) }
func (a SetTimer) Describe() string   { return fmt.Sprintf("Setting %ds timer", a.Seconds) }
func (a ShareText) Describe() string  { return "Sharing text" }
func (a CopyToClipboard) Describe() string {
	return "Copying " + truncate(a.Text, 30)
}
func (a SendEmail) Describe() string { return "Emailing " + a.To }
func (a OpenMaps) Describe() string {
	if a.Navigate {
		return "Navigating to " + quoteOr(a.Query, "destination")
	}
	return "Showing " + quoteOr(a.Query, "location") + " on map"
}
func (a PlayMedia) Describe() string { return "Playing " + quoteOr(a.Query, "media") }
func (a CaptureMedia) Describe() string {
	if a.Video {
		return "Recording video"
	}
	return "Taking photo"
}
func (a OpenSettings) Describe() string {
	if a.Section == "" {
		return "Opening settings"
	}
	return "Opening " + a.Section + " settings"
}

func quoteOr(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return fmt.Sprintf("%q", s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%q", string(r[:n])+"...")
}
