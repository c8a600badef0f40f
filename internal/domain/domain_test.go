package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewFocusRegion_Accepts(t *testing.T) {
	t.Parallel()

	region, err := NewFocusRegion(200, 200, 10, 10, 50)
	if err != nil {
		t.Fatalf("NewFocusRegion() error = %v", err)
	}
	want := Rect{Left: 10, Top: 10, Right: 200, Bottom: 200}
	if diff := cmp.Diff(want, region.Bounds); diff != "" {
		t.Errorf("bounds mismatch (-want +got):\n%s", diff)
	}
	if region.Bounds.Width() != 190 || region.Bounds.Height() != 190 {
		t.Errorf("size = %gx%g, want 190x190", region.Bounds.Width(), region.Bounds.Height())
	}
}

func TestNewFocusRegion_RejectsSmall(t *testing.T) {
	t.Parallel()

	_, err := NewFocusRegion(10, 10, 19, 15, 50)
	if !errors.Is(err, ErrRegionTooSmall) {
		t.Fatalf("expected ErrRegionTooSmall, got %v", err)
	}

	// One dimension large enough is still rejected.
	_, err = NewFocusRegion(0, 0, 400, 49, 50)
	if !errors.Is(err, ErrRegionTooSmall) {
		t.Fatalf("expected ErrRegionTooSmall for thin region, got %v", err)
	}
}

func TestScreenSummary_FiltersToRegion(t *testing.T) {
	t.Parallel()

	screen := &ScreenState{
		Package: "com.example.mail",
		Elements: []UIElement{
			{ID: "inbox", Text: "Inbox", Bounds: Rect{0, 0, 100, 50}, Clickable: true},
			{ID: "compose", Text: "Compose", Bounds: Rect{300, 600, 400, 700}, Clickable: true},
		},
		Text: "Inbox Compose",
	}

	full := screen.Summary(nil)
	if !strings.Contains(full, "Inbox") || !strings.Contains(full, "Compose") {
		t.Fatalf("full summary missing elements:\n%s", full)
	}

	region, err := NewFocusRegion(250, 550, 450, 750, 50)
	if err != nil {
		t.Fatal(err)
	}
	scoped := screen.Summary(&region)
	if strings.Contains(scoped, `"Inbox"`) {
		t.Errorf("scoped summary should exclude elements outside region:\n%s", scoped)
	}
	if !strings.Contains(scoped, `"Compose" {clickable}`) {
		t.Errorf("scoped summary missing compose:\n%s", scoped)
	}

	var nilScreen *ScreenState
	if got := nilScreen.Summary(nil); got == "" {
		t.Error("nil screen summary should not be empty")
	}
}

func TestDecodeAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Action
	}{
		{`{"type":"respond","message":"hi"}`, Respond{Message: "hi"}},
		{`{"type":"CLICK","target":"send"}`, Click{Target: "send"}},
		{`{"type":"scroll","direction":"down"}`, Scroll{Direction: ScrollDown}},
		{`{"type":"back"}`, Back{}},
		{`{"type":"set_alarm","hour":7,"minute":30}`, SetAlarm{Hour: 7, Minute: 30}},
		{`{"type":"send_sms","number":"555","message":"late"}`, SendSMS{Number: "555", Message: "late"}},
	}
	for _, tt := range tests {
		got, err := DecodeAction([]byte(tt.in))
		if err != nil {
			t.Errorf("DecodeAction(%s) error = %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("DecodeAction(%s) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}

	if _, err := DecodeAction([]byte(`{"type":"teleport"}`)); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestEncodeAction_IncludesType(t *testing.T) {
	t.Parallel()

	b, err := EncodeAction(OpenApp{App: "Calculator"})
	if err != nil {
		t.Fatalf("EncodeAction() error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "open_app" || got["app"] != "Calculator" {
		t.Errorf("unexpected encoding: %s", b)
	}
}

func TestActionPlan_DropsUnknownAndFindsResponse(t *testing.T) {
	t.Parallel()

	var plan ActionPlan
	raw := `[{"type":"teleport"},{"type":"click","target":"ok"},{"type":"respond","message":"Done!"}]`
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("len(plan) = %d, want 2", len(plan))
	}
	msg, ok := plan.FirstResponse()
	if !ok || msg != "Done!" {
		t.Errorf("FirstResponse() = %q, %v", msg, ok)
	}
	if !IsConversational(plan[1]) || IsConversational(plan[0]) {
		t.Error("IsConversational misclassified plan entries")
	}
}

func TestSortSuggestions_DescendingStable(t *testing.T) {
	t.Parallel()

	s := []Suggestion{
		{Title: "a", Priority: 1},
		{Title: "b", Priority: 5},
		{Title: "c", Priority: 3},
		{Title: "d", Priority: 5},
	}
	SortSuggestions(s)

	var titles []string
	for _, x := range s {
		titles = append(titles, x.Title)
	}
	if diff := cmp.Diff([]string{"b", "d", "c", "a"}, titles); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestion_JSONAction(t *testing.T) {
	t.Parallel()

	var s Suggestion
	in := `{"title":"Call mom","priority":4,"action":{"type":"call_number","number":"123"}}`
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(CallNumber{Number: "123"}, s.Action); diff != "" {
		t.Errorf("action mismatch (-want +got):\n%s", diff)
	}
}
