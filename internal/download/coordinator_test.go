package download

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCatalog struct {
	mu            sync.Mutex
	downloaded    map[string]bool
	streams       map[string]chan Event
	downloadCalls map[string]int
	cleared       []string
	refreshCalls  int
	// hideUntil delays catalog registration until the given refresh count.
	hideUntil int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		downloaded:    map[string]bool{},
		streams:       map[string]chan Event{},
		downloadCalls: map[string]int{},
	}
}

func (f *fakeCatalog) stream(slug string) chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.streams[slug]
	if !ok {
		ch = make(chan Event)
		f.streams[slug] = ch
	}
	return ch
}

func (f *fakeCatalog) RefreshCatalog(context.Context) ([]domain.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	var out []domain.ModelInfo
	for slug, ok := range f.downloaded {
		out = append(out, domain.ModelInfo{Slug: slug, Downloaded: ok && f.refreshCalls >= f.hideUntil})
	}
	return out, nil
}

func (f *fakeCatalog) Download(ctx context.Context, slug string) iter.Seq[Event] {
	f.mu.Lock()
	f.downloadCalls[slug]++
	f.mu.Unlock()
	ch := f.stream(slug)
	return func(yield func(Event) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if _, done := ev.(Completed); done {
					f.mu.Lock()
					f.downloaded[slug] = true
					f.mu.Unlock()
				}
				if !yield(ev) {
					return
				}
			}
		}
	}
}

func (f *fakeCatalog) ClearState(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, slug)
}

func (f *fakeCatalog) IsDownloaded(_ context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloaded[slug], nil
}

func (f *fakeCatalog) calls(slug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCalls[slug]
}

type fakeLoader struct {
	mu     sync.Mutex
	loaded []string
	err    error
}

func (l *fakeLoader) LoadModel(_ context.Context, slug string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = append(l.loaded, slug)
	return l.err
}

func (l *fakeLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loaded)
}

func newTestCoordinator(t *testing.T, catalog *fakeCatalog, loader *fakeLoader, ui *state.Cell[domain.UIState]) *Coordinator {
	t.Helper()
	c := NewCoordinator(catalog, loader, ui, Config{
		ClearAfter:    time.Hour,
		SyncAttempts:  5,
		SyncBaseDelay: time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartDownload_SkipsTransferWhenDownloaded(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.downloaded["gemma"] = true
	loader := &fakeLoader{}
	ui := state.NewCell(domain.UIState{})
	c := newTestCoordinator(t, catalog, loader, ui)

	if !c.StartDownload("gemma", true) {
		t.Fatal("StartDownload() = false, want true")
	}
	c.Wait()

	if n := catalog.calls("gemma"); n != 0 {
		t.Errorf("Download called %d times, want 0", n)
	}
	if loader.count() != 1 {
		t.Errorf("LoadModel called %d times, want 1", loader.count())
	}
	got := ui.Get()
	if !got.IsModelReady || got.ActiveModel != "gemma" || got.IsModelLoading {
		t.Errorf("unexpected ui state: %+v", got)
	}
	if _, ok := c.Downloads.Get()["gemma"]; ok {
		t.Error("skip path should not create a download record")
	}
}

func TestStartDownload_SkipDoesNotReloadWhenReady(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.downloaded["gemma"] = true
	loader := &fakeLoader{}
	ui := state.NewCell(domain.UIState{IsModelReady: true, ActiveModel: "other"})
	c := newTestCoordinator(t, catalog, loader, ui)

	c.StartDownload("gemma", true)
	c.Wait()

	if loader.count() != 0 {
		t.Errorf("LoadModel called %d times, want 0", loader.count())
	}
	if ui.Get().ActiveModel != "other" {
		t.Errorf("ActiveModel = %q, want other", ui.Get().ActiveModel)
	}
}

func TestStartDownload_DedupAndForcedFinalProgress(t *testing.T) {
	catalog := newFakeCatalog()
	loader := &fakeLoader{}
	ui := state.NewCell(domain.UIState{})
	c := newTestCoordinator(t, catalog, loader, ui)

	if !c.StartDownload("qwen", false) {
		t.Fatal("first StartDownload() = false")
	}
	if c.StartDownload("qwen", false) {
		t.Fatal("second StartDownload() should be deduplicated")
	}

	stream := catalog.stream("qwen")
	stream <- Progress{Fraction: 0.4, BytesDownloaded: 40, TotalBytes: 100}
	waitFor(t, "progress", func() bool { return c.Downloads.Get()["qwen"].Progress == 0.4 })

	// Progress never moves backwards.
	stream <- Progress{Fraction: 0.2, BytesDownloaded: 20, TotalBytes: 100}
	stream <- Completed{}
	c.Wait()

	rec := c.Downloads.Get()["qwen"]
	if !rec.Completed || rec.IsDownloading || rec.Progress != 1 || rec.BytesDownloaded != 100 {
		t.Errorf("unexpected final record: %+v", rec)
	}
	if n := catalog.calls("qwen"); n != 1 {
		t.Errorf("Download called %d times, want 1", n)
	}
	if loader.count() != 0 {
		t.Error("autoLoad=false must not load")
	}
	if c.IsRunning("qwen") {
		t.Error("task should be finished")
	}
}

func TestLegacyProjection_OneVersusTwoDownloads(t *testing.T) {
	catalog := newFakeCatalog()
	c := newTestCoordinator(t, catalog, &fakeLoader{}, nil)

	c.StartDownload("a", false)
	a := catalog.stream("a")
	a <- Progress{Fraction: 0.3}
	waitFor(t, "legacy mirrors a", func() bool {
		l := c.Legacy.Get()
		return l.Slug == "a" && l.Progress == 0.3
	})

	c.StartDownload("b", false)
	waitFor(t, "b downloading", func() bool { return c.Downloads.Get()["b"].IsDownloading })
	b := catalog.stream("b")
	a <- Progress{Fraction: 0.5}
	b <- Progress{Fraction: 0.7}
	waitFor(t, "both progressed", func() bool {
		m := c.Downloads.Get()
		return m["a"].Progress == 0.5 && m["b"].Progress == 0.7
	})

	if l := c.Legacy.Get(); l.Slug != "a" || l.Progress != 0.3 {
		t.Fatalf("legacy changed during concurrent downloads: %+v", l)
	}

	// b finishes; a is the sole download again and is mirrored.
	b <- Completed{}
	waitFor(t, "b completed", func() bool { return c.Downloads.Get()["b"].Completed })
	waitFor(t, "legacy mirrors a again", func() bool {
		l := c.Legacy.Get()
		return l.Slug == "a" && l.Progress == 0.5
	})

	a <- Completed{}
	c.Wait()
	if l := c.Legacy.Get(); l.Slug != "a" || !l.Completed {
		t.Errorf("legacy should mirror the last changed record: %+v", l)
	}
}

func TestStartDownload_FailureUpdatesRecordAndStatus(t *testing.T) {
	catalog := newFakeCatalog()
	ui := state.NewCell(domain.UIState{})
	c := newTestCoordinator(t, catalog, &fakeLoader{}, ui)

	c.StartDownload("phi", true)
	catalog.stream("phi") <- Failed{Err: errors.New("disk full")}
	c.Wait()

	rec := c.Downloads.Get()["phi"]
	if rec.Error != "disk full" || rec.IsDownloading || rec.Completed {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !strings.Contains(ui.Get().StatusMessage, "disk full") {
		t.Errorf("status = %q", ui.Get().StatusMessage)
	}

	// A failed download can be retried.
	if !c.StartDownload("phi", false) {
		t.Fatal("retry should start a new task")
	}
	catalog.stream("phi") <- Completed{}
	c.Wait()
	if rec := c.Downloads.Get()["phi"]; !rec.Completed || rec.Error != "" {
		t.Errorf("retry record: %+v", rec)
	}
}

func TestStartDownload_StreamEndsWithoutResult(t *testing.T) {
	catalog := newFakeCatalog()
	c := newTestCoordinator(t, catalog, &fakeLoader{}, nil)

	c.StartDownload("m", false)
	close(catalog.stream("m"))
	c.Wait()

	if got := c.Downloads.Get()["m"].Error; got != ErrStreamEnded.Error() {
		t.Errorf("error = %q, want %q", got, ErrStreamEnded)
	}
}

func TestCancelDownload(t *testing.T) {
	catalog := newFakeCatalog()
	c := newTestCoordinator(t, catalog, &fakeLoader{}, nil)

	c.StartDownload("m", false)
	catalog.stream("m") <- Progress{Fraction: 0.1}
	if !c.CancelDownload("m") {
		t.Fatal("CancelDownload() = false")
	}
	c.Wait()

	if got := c.Downloads.Get()["m"].Error; got != ErrDownloadCancelled.Error() {
		t.Errorf("error = %q, want %q", got, ErrDownloadCancelled)
	}
	if c.CancelDownload("m") {
		t.Error("CancelDownload() on idle slug = true")
	}
}

func TestAutoLoadFailureLeavesModelNotReady(t *testing.T) {
	catalog := newFakeCatalog()
	loader := &fakeLoader{err: errors.New("bad weights")}
	ui := state.NewCell(domain.UIState{})
	c := newTestCoordinator(t, catalog, loader, ui)

	c.StartDownload("m", true)
	catalog.stream("m") <- Completed{}
	c.Wait()

	if !c.Downloads.Get()["m"].Completed {
		t.Error("download should still be complete")
	}
	got := ui.Get()
	if got.IsModelReady || got.IsModelLoading {
		t.Errorf("unexpected ui state: %+v", got)
	}
	if !strings.Contains(got.StatusMessage, "bad weights") {
		t.Errorf("status = %q", got.StatusMessage)
	}
}

func TestCompletion_RetriesCatalogSync(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.hideUntil = 3
	loader := &fakeLoader{}
	ui := state.NewCell(domain.UIState{})
	c := newTestCoordinator(t, catalog, loader, ui)

	c.StartDownload("m", true)
	catalog.stream("m") <- Completed{}
	c.Wait()

	catalog.mu.Lock()
	calls := catalog.refreshCalls
	catalog.mu.Unlock()
	if calls < 3 {
		t.Errorf("refreshCalls = %d, want >= 3", calls)
	}
	if !ui.Get().IsModelReady {
		t.Error("model should be ready after sync and load")
	}
	if len(c.Models.Get()) != 1 {
		t.Errorf("Models = %v", c.Models.Get())
	}
}

func TestClearState_AfterGracePeriodAndIdempotent(t *testing.T) {
	catalog := newFakeCatalog()
	c := NewCoordinator(catalog, &fakeLoader{}, nil, Config{
		ClearAfter:    20 * time.Millisecond,
		SyncBaseDelay: time.Millisecond,
	})
	t.Cleanup(c.Close)

	c.StartDownload("m", false)
	catalog.stream("m") <- Completed{}
	c.Wait()

	waitFor(t, "record cleared", func() bool {
		_, ok := c.Downloads.Get()["m"]
		return !ok
	})
	if l := c.Legacy.Get(); l.Slug != "" {
		t.Errorf("legacy should reset after its record is cleared: %+v", l)
	}

	c.ClearState("m")
	c.ClearState("m")
	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	if len(catalog.cleared) != 3 {
		t.Errorf("catalog cleared %d times, want 3", len(catalog.cleared))
	}
}
