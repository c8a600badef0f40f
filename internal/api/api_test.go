package api

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/screenpilot/internal/cloud"
	"github.com/ashureev/screenpilot/internal/conversation"
	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/focus"
	"github.com/ashureev/screenpilot/internal/inference"
	"github.com/ashureev/screenpilot/internal/state"
	"github.com/ashureev/screenpilot/internal/store"
)

type fakeChat struct {
	mu   sync.Mutex
	sent []string

	// When hold is set, Send closes entered and blocks until hold is closed
	// or ctx ends, then reports ctx.Err() on done.
	hold    chan struct{}
	entered chan struct{}
	done    chan error
}

func (f *fakeChat) Send(ctx context.Context, text string) (domain.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return domain.ChatMessage{}, conversation.ErrEmptyMessage
	}
	if f.hold != nil {
		close(f.entered)
		select {
		case <-f.hold:
		case <-ctx.Done():
		}
		f.done <- ctx.Err()
		if err := ctx.Err(); err != nil {
			return domain.ChatMessage{}, err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return domain.ChatMessage{ID: "m2", Role: domain.RoleAssistant, Content: "echo: " + text}, nil
}

type fakeDownloads struct {
	mu       sync.Mutex
	started  map[string]bool
	running  map[string]bool
	cleared  []string
	loaded   []string
	refreshN int
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{started: map[string]bool{}, running: map[string]bool{}}
}

func (f *fakeDownloads) StartDownload(slug string, autoLoad bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[slug] {
		return false
	}
	f.running[slug] = true
	f.started[slug] = autoLoad
	return true
}

func (f *fakeDownloads) CancelDownload(slug string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok := f.running[slug]
	delete(f.running, slug)
	return ok
}

func (f *fakeDownloads) ClearState(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, slug)
}

func (f *fakeDownloads) RefreshCatalog(context.Context) ([]domain.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshN++
	return []domain.ModelInfo{{Slug: "gemma3-1b", Name: "Gemma 3 1B", Downloaded: true}}, nil
}

func (f *fakeDownloads) LoadModel(_ context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, slug)
	return nil
}

type fakeSettings struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *fakeSettings) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return "", store.ErrSettingNotFound
	}
	return v, nil
}

func (s *fakeSettings) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// fakeLocal streams a fixed suggestion set.
type fakeLocal struct{}

func (fakeLocal) LoadModel(context.Context, string) error { return nil }
func (fakeLocal) UnloadModel(context.Context) error       { return nil }
func (fakeLocal) GenerateResponse(context.Context, inference.ResponseRequest) (*inference.Response, error) {
	return &inference.Response{Text: "ok"}, nil
}

func (fakeLocal) GenerateSuggestionsStreaming(context.Context, *domain.ScreenState, int, *domain.FocusRegion) iter.Seq[inference.Event] {
	return func(yield func(inference.Event) bool) {
		if !yield(inference.Token{Text: `[{"title":`}) {
			return
		}
		yield(inference.Complete{Suggestions: []domain.Suggestion{
			{Title: "Reply", Priority: 1},
			{Title: "Open settings", Priority: 3},
		}})
	}
}

func (fakeLocal) GenerateTextOptions(_ context.Context, text string, _ int) iter.Seq[inference.Event] {
	return func(yield func(inference.Event) bool) {
		yield(inference.Complete{Suggestions: []domain.Suggestion{{Title: text + "!"}}})
	}
}

type fixture struct {
	srv       *httptest.Server
	ui        *state.Cell[domain.UIState]
	chat      *fakeChat
	downloads *fakeDownloads
	selection *cloud.Selection
	selector  *focus.Selector
	router    *inference.Router
}

func newFixture(t *testing.T, modelReady bool, chatLimit int) *fixture {
	t.Helper()
	ui := state.NewCell(domain.UIState{IsModelReady: modelReady})
	router := inference.NewRouter(inference.NewEngine(fakeLocal{}), nil, nil, ui, inference.RouterConfig{})
	t.Cleanup(router.Close)
	selector := focus.NewSelector(nil, func(*domain.FocusRegion) {}, focus.WithSettleDelay(time.Millisecond))
	t.Cleanup(selector.Stop)
	limiter := NewRateLimiter(chatLimit, time.Minute)
	t.Cleanup(limiter.Close)

	f := &fixture{
		ui:        ui,
		chat:      &fakeChat{},
		downloads: newFakeDownloads(),
		selection: cloud.NewSelection(&fakeSettings{m: map[string]string{}}),
		selector:  selector,
		router:    router,
	}
	h := NewHandler(Deps{
		Chat:        f.chat,
		Downloads:   f.downloads,
		Suggestions: router,
		Focus:       selector,
		Cloud:       f.selection,
		Cells: Cells{
			UI:             ui,
			Suggestions:    router.State,
			FocusSelection: selector.Selection,
			FocusRegion:    selector.Region,
		},
		RateLimiter: limiter,
		IsDev:       true,
	})
	f.srv = httptest.NewServer(NewRouter(h, RouterConfig{CORSOrigins: []string{"*"}, SessionID: "sess-1"}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestSendChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 2)

	resp, body := f.do(t, http.MethodPost, "/api/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var reply domain.ChatMessage
	if err := json.Unmarshal(body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Content != "echo: hello" || reply.Role != domain.RoleAssistant {
		t.Errorf("reply = %+v", reply)
	}
	if got := resp.Header.Get("X-ScreenPilot-Session-ID"); got != "sess-1" {
		t.Errorf("session header = %q", got)
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/chat", `{"message":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want 400", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/chat", `{"message":"again"}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", resp.StatusCode)
	}
}

func TestSendChat_ClientDisconnectMidTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)
	f.chat.hold = make(chan struct{})
	f.chat.entered = make(chan struct{})
	f.chat.done = make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.srv.URL+"/api/chat", strings.NewReader(`{"message":"open mail"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		if resp, err := f.srv.Client().Do(req); err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-f.chat.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("chat turn never started")
	}
	cancel()
	<-clientDone

	// Give the server time to notice the disconnect before the turn resumes.
	time.Sleep(150 * time.Millisecond)
	close(f.chat.hold)

	select {
	case err := <-f.chat.done:
		if err != nil {
			t.Fatalf("turn context ended with the client: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("chat turn never finished")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		f.chat.mu.Lock()
		n := len(f.chat.sent)
		f.chat.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn was not recorded after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDownloadEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)

	if resp, body := f.do(t, http.MethodPost, "/api/downloads/gemma3-1b", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/downloads/gemma3-1b", `{"auto_load":false}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/downloads/qwen3-0.6b", `{"auto_load":false}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("second model start status = %d", resp.StatusCode)
	}
	f.downloads.mu.Lock()
	if !f.downloads.started["gemma3-1b"] || f.downloads.started["qwen3-0.6b"] {
		t.Errorf("autoLoad flags = %v", f.downloads.started)
	}
	f.downloads.mu.Unlock()

	if resp, _ := f.do(t, http.MethodDelete, "/api/downloads/gemma3-1b", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("cancel status = %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodDelete, "/api/downloads/gemma3-1b", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel idle status = %d, want 404", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/downloads/gemma3-1b/clear", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/api/models/refresh", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"slug":"gemma3-1b"`) {
		t.Errorf("refresh = %d %s", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/models/gemma3-1b/load", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("load status = %d", resp.StatusCode)
	}

	f.downloads.mu.Lock()
	defer f.downloads.mu.Unlock()
	if len(f.downloads.cleared) != 1 || len(f.downloads.loaded) != 1 || f.downloads.refreshN != 1 {
		t.Errorf("cleared=%v loaded=%v refreshes=%d", f.downloads.cleared, f.downloads.loaded, f.downloads.refreshN)
	}
}

func TestCloudModelEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)

	_, body := f.do(t, http.MethodGet, "/api/cloud/model", "")
	if !strings.Contains(string(body), `"model":"balanced"`) {
		t.Errorf("default model body = %s", body)
	}
	if resp, body := f.do(t, http.MethodPut, "/api/cloud/model", `{"model":"Smart"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("set status = %d, body = %s", resp.StatusCode, body)
	}
	if got := f.selection.Current(); got != cloud.ModelSmart {
		t.Errorf("Current() = %q", got)
	}
	if resp, _ := f.do(t, http.MethodPut, "/api/cloud/model", `{"model":"huge"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown model status = %d, want 400", resp.StatusCode)
	}
}

func TestFocusEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)

	f.do(t, http.MethodPost, "/api/focus/start", `{"x":10,"y":10}`)
	f.do(t, http.MethodPost, "/api/focus/update", `{"x":200,"y":200}`)
	resp, body := f.do(t, http.MethodPost, "/api/focus/end", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"outcome":"accepted"`) {
		t.Fatalf("end = %d %s", resp.StatusCode, body)
	}
	region := f.selector.Region.Get()
	if region == nil || region.Bounds != (domain.Rect{Left: 10, Top: 10, Right: 200, Bottom: 200}) {
		t.Errorf("region = %+v", region)
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/focus/end", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("end without start status = %d, want 409", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/focus/clear", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d", resp.StatusCode)
	}
	if f.selector.Region.Get() != nil {
		t.Error("region not cleared")
	}
}

func TestStreamSuggestions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)

	resp, body := f.do(t, http.MethodGet, "/api/suggestions/stream", "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	text := string(body)
	tokenAt := strings.Index(text, "event: token\n")
	completeAt := strings.Index(text, "event: complete\n")
	if tokenAt < 0 || completeAt < tokenAt {
		t.Fatalf("stream = %q", text)
	}
	if strings.Index(text, "Open settings") > strings.Index(text, "Reply") {
		t.Errorf("suggestions not sorted by priority: %q", text)
	}

	st := f.router.State.Get()
	if st.IsLoading || len(st.Suggestions) != 2 || st.Suggestions[0].Title != "Open settings" {
		t.Errorf("state = %+v", st)
	}
}

func TestStreamSuggestions_ModelNotReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, 0)

	_, body := f.do(t, http.MethodGet, "/api/suggestions/stream", "")
	if !strings.Contains(string(body), "event: error\ndata: {\"message\":\"model not ready\"}") {
		t.Errorf("stream = %q", body)
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/text-options", `{"text":"hi"}`); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("text options status = %d, want 503", resp.StatusCode)
	}
}

func TestStartAndDismissSuggestions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)

	if resp, _ := f.do(t, http.MethodPost, "/api/suggestions", `{"use_cloud":false}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	deadline := time.Now().Add(3 * time.Second)
	for f.router.State.Get().IsLoading || len(f.router.State.Get().Suggestions) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("suggestions never completed: %+v", f.router.State.Get())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if resp, _ := f.do(t, http.MethodDelete, "/api/suggestions", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("dismiss status = %d", resp.StatusCode)
	}
	if st := f.router.State.Get(); st.IsVisible || st.Suggestions != nil {
		t.Errorf("state after dismiss = %+v", st)
	}
}

func TestTextOptions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, 0)

	resp, body := f.do(t, http.MethodPost, "/api/text-options", `{"text":"see you"}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"see you!"`) {
		t.Errorf("text options = %d %s", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/text-options", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", resp.StatusCode)
	}
}

func TestStateWebSocket(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws/state", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() Snapshot {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return snap
	}

	if snap := read(); snap.UI.IsModelReady {
		t.Errorf("initial snapshot = %+v", snap.UI)
	}

	f.ui.Update(func(u domain.UIState) domain.UIState {
		u.IsModelReady = true
		u.ActiveModel = "gemma3-1b"
		return u
	})
	for {
		snap := read()
		if snap.UI.ActiveModel == "gemma3-1b" && snap.UI.IsModelReady {
			break
		}
	}
}
