package focus

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/screenpilot/internal/domain"
)

type fakeSurface struct{ closed atomic.Int32 }

func (f *fakeSurface) Close() { f.closed.Add(1) }

func newTestSelector(t *testing.T) (*Selector, *fakeSurface, chan *domain.FocusRegion) {
	t.Helper()
	surface := &fakeSurface{}
	triggered := make(chan *domain.FocusRegion, 8)
	s := NewSelector(surface, func(r *domain.FocusRegion) { triggered <- r }, WithSettleDelay(time.Millisecond))
	t.Cleanup(s.Stop)
	return s, surface, triggered
}

func waitTrigger(t *testing.T, ch <-chan *domain.FocusRegion) *domain.FocusRegion {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("analysis was not re-triggered")
		return nil
	}
}

func TestSelector_AcceptsLargeRegion(t *testing.T) {
	t.Parallel()
	s, surface, triggered := newTestSelector(t)

	s.Start(10, 10)
	s.Update(200, 200)
	outcome, err := s.End()
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if outcome != Accepted {
		t.Fatalf("outcome = %v, want accepted", outcome)
	}

	want := domain.Rect{Left: 10, Top: 10, Right: 200, Bottom: 200}
	region := s.Region.Get()
	if region == nil {
		t.Fatal("expected active region")
	}
	if diff := cmp.Diff(want, region.Bounds); diff != "" {
		t.Errorf("bounds mismatch (-want +got):\n%s", diff)
	}
	if got := waitTrigger(t, triggered); got == nil || got.Bounds != want {
		t.Errorf("retrigger region = %v, want %v", got, want)
	}
	if surface.closed.Load() != 1 {
		t.Errorf("surface closed %d times, want 1", surface.closed.Load())
	}
	if s.Selection.Get().IsSelecting {
		t.Error("selection should be reset after End")
	}
}

func TestSelector_RejectsSmallRegionKeepsPrevious(t *testing.T) {
	t.Parallel()
	s, _, triggered := newTestSelector(t)

	s.Start(0, 0)
	s.Update(300, 300)
	if _, err := s.End(); err != nil {
		t.Fatal(err)
	}
	waitTrigger(t, triggered)
	prev := s.Region.Get()

	s.Start(10, 10)
	s.Update(19, 15)
	outcome, err := s.End()
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Rejected {
		t.Fatalf("outcome = %v, want rejected", outcome)
	}
	if got := s.Region.Get(); got != prev {
		t.Errorf("active region changed on rejection: %v -> %v", prev, got)
	}
	if got := waitTrigger(t, triggered); got != prev {
		t.Errorf("rejection should retrigger with previous region, got %v", got)
	}
}

func TestSelector_UpdateOnlyMovesCursor(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestSelector(t)

	s.Update(5, 5)
	if s.Selection.Get() != (domain.FocusSelection{}) {
		t.Error("Update outside a selection should be ignored")
	}

	s.Start(1, 2)
	s.Update(30, 40)
	want := domain.FocusSelection{IsSelecting: true, StartX: 1, StartY: 2, CurrentX: 30, CurrentY: 40}
	if diff := cmp.Diff(want, s.Selection.Get()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelector_ClearAndCancel(t *testing.T) {
	t.Parallel()
	s, surface, triggered := newTestSelector(t)

	s.Start(0, 0)
	s.Update(100, 100)
	if _, err := s.End(); err != nil {
		t.Fatal(err)
	}
	waitTrigger(t, triggered)

	s.Start(0, 0)
	s.Cancel()
	if got := waitTrigger(t, triggered); got == nil {
		t.Error("Cancel should keep the accepted region")
	}

	s.Clear()
	if s.Region.Get() != nil {
		t.Error("Clear should drop the active region")
	}
	if got := waitTrigger(t, triggered); got != nil {
		t.Errorf("Clear should retrigger full screen, got %v", got)
	}
	if surface.closed.Load() != 3 {
		t.Errorf("surface closed %d times, want 3", surface.closed.Load())
	}
}

func TestSelector_EndWithoutStart(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestSelector(t)

	if _, err := s.End(); !errors.Is(err, ErrNotSelecting) {
		t.Fatalf("End() error = %v, want ErrNotSelecting", err)
	}
}
