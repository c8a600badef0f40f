// Package download drives concurrent per-model download lifecycles.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

// Errors recorded on download records or surfaced through status.
var (
	ErrDownloadCancelled = errors.New("download cancelled")
	ErrStreamEnded       = errors.New("download stream ended without result")
	ErrNotRegistered     = errors.New("model not registered in catalog")
	ErrModelLoad         = errors.New("model load failed")
)

const (
	defaultClearAfter    = 5 * time.Second
	defaultSyncAttempts  = 5
	defaultSyncBaseDelay = 500 * time.Millisecond
)

// Config tunes a Coordinator.
type Config struct {
	// ClearAfter is the grace period before a completed record is removed.
	ClearAfter time.Duration
	// SyncAttempts bounds catalog re-sync after a completed download.
	SyncAttempts int
	// SyncBaseDelay is the first re-sync backoff; it doubles per attempt.
	SyncBaseDelay time.Duration
	Logger        *slog.Logger
}

// Coordinator runs at most one download task per model slug. Distinct slugs
// download concurrently with independent records.
type Coordinator struct {
	// Downloads maps slug to its record. Each published map is a fresh copy.
	Downloads *state.Cell[map[string]domain.ModelDownloadState]
	// Legacy is a single-slot view derived from Downloads. It follows the sole
	// downloading model and holds its value while two or more download.
	Legacy *state.Cell[domain.ModelDownloadState]
	// Models is the last catalog listing.
	Models *state.Cell[[]domain.ModelInfo]

	catalog Catalog
	loader  Loader
	ui      *state.Cell[domain.UIState]
	cfg     Config
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	timers map[string]*time.Timer

	// recMu orders record writes with their legacy projection.
	recMu sync.Mutex
}

// NewCoordinator creates a coordinator. ui receives loading, readiness and
// status updates.
func NewCoordinator(catalog Catalog, loader Loader, ui *state.Cell[domain.UIState], cfg Config) *Coordinator {
	if cfg.ClearAfter <= 0 {
		cfg.ClearAfter = defaultClearAfter
	}
	if cfg.SyncAttempts <= 0 {
		cfg.SyncAttempts = defaultSyncAttempts
	}
	if cfg.SyncBaseDelay <= 0 {
		cfg.SyncBaseDelay = defaultSyncBaseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		Downloads: state.NewCell(map[string]domain.ModelDownloadState{}),
		Legacy:    state.NewCell(domain.ModelDownloadState{}),
		Models:    state.NewCell[[]domain.ModelInfo](nil),
		catalog:   catalog,
		loader:    loader,
		ui:        ui,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]context.CancelFunc),
		timers:    make(map[string]*time.Timer),
	}
}

// StartDownload starts the download task for slug. It returns false when a
// task for slug is already running. Models already on disk skip the transfer
// and, when autoLoad is set and no model is ready, are loaded directly.
func (c *Coordinator) StartDownload(slug string, autoLoad bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return false
	}
	if _, running := c.tasks[slug]; running {
		c.logger.Debug("[DOWNLOAD] already running, ignoring", "slug", slug)
		return false
	}
	if t, ok := c.timers[slug]; ok {
		t.Stop()
		delete(c.timers, slug)
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.tasks[slug] = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.finishTask(slug)
		defer cancel()
		c.run(ctx, slug, autoLoad)
	}()
	return true
}

// CancelDownload stops a running download. It reports whether a task was
// running.
func (c *Coordinator) CancelDownload(slug string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.tasks[slug]
	if ok {
		cancel()
	}
	return ok
}

// IsRunning reports whether a task for slug is active.
func (c *Coordinator) IsRunning(slug string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[slug]
	return ok
}

// ClearState removes the record of slug and the catalog's cached state. It
// is a no-op while slug is downloading.
func (c *Coordinator) ClearState(slug string) {
	c.mu.Lock()
	if _, running := c.tasks[slug]; running {
		c.mu.Unlock()
		return
	}
	if t, ok := c.timers[slug]; ok {
		t.Stop()
		delete(c.timers, slug)
	}
	c.mu.Unlock()

	c.removeRecord(slug)
	c.catalog.ClearState(slug)
}

// RefreshCatalog reloads the model listing.
func (c *Coordinator) RefreshCatalog(ctx context.Context) ([]domain.ModelInfo, error) {
	models, err := c.catalog.RefreshCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh catalog: %w", err)
	}
	c.Models.Set(models)
	return models, nil
}

// LoadModel loads slug into the local engine and flips readiness in a single
// UI update.
func (c *Coordinator) LoadModel(ctx context.Context, slug string) error {
	c.updateUI(func(u domain.UIState) domain.UIState {
		u.IsModelLoading = true
		u.StatusMessage = "Loading " + slug + "..."
		return u
	})

	if err := c.loader.LoadModel(ctx, slug); err != nil {
		c.logger.Error("[DOWNLOAD] model load failed", "slug", slug, "error", err)
		c.updateUI(func(u domain.UIState) domain.UIState {
			u.IsModelLoading = false
			u.IsModelReady = false
			u.ActiveModel = ""
			u.StatusMessage = "Failed to load " + slug + ": " + err.Error()
			return u
		})
		return fmt.Errorf("%w: %s: %w", ErrModelLoad, slug, err)
	}

	c.updateUI(func(u domain.UIState) domain.UIState {
		u.IsModelLoading = false
		u.IsModelReady = true
		u.ActiveModel = slug
		u.StatusMessage = "Model ready: " + slug
		return u
	})
	c.logger.Info("[DOWNLOAD] model loaded", "slug", slug)
	return nil
}

// Wait blocks until all running tasks have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels all tasks and pending clears and waits for tasks to exit.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for slug, t := range c.timers {
		t.Stop()
		delete(c.timers, slug)
	}
}

func (c *Coordinator) run(ctx context.Context, slug string, autoLoad bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("[DOWNLOAD] task panicked", "slug", slug, "panic", r)
			c.fail(slug, fmt.Errorf("internal error: %v", r))
		}
	}()

	downloaded, err := c.catalog.IsDownloaded(ctx, slug)
	if err != nil {
		c.logger.Warn("[DOWNLOAD] availability check failed", "slug", slug, "error", err)
	}
	if downloaded {
		c.logger.Info("[DOWNLOAD] already downloaded, skipping transfer", "slug", slug)
		if autoLoad && !c.modelReady() {
			_ = c.LoadModel(ctx, slug)
		}
		return
	}

	c.setRecord(slug, func(domain.ModelDownloadState) domain.ModelDownloadState {
		return domain.ModelDownloadState{Slug: slug, IsDownloading: true}
	})
	c.logger.Info("[DOWNLOAD] started", "slug", slug)

	if err := c.transfer(ctx, slug); err != nil {
		if ctx.Err() != nil {
			err = ErrDownloadCancelled
		}
		c.fail(slug, err)
		return
	}

	c.logger.Info("[DOWNLOAD] completed", "slug", slug)
	if err := c.syncCatalog(ctx, slug); err != nil {
		c.logger.Warn("[DOWNLOAD] catalog sync failed", "slug", slug, "error", err)
	}
	c.scheduleClear(slug)

	if autoLoad {
		_ = c.LoadModel(ctx, slug)
	} else {
		c.setStatusIfIdle(slug, "Downloaded "+slug)
	}
}

// transfer consumes the catalog stream and returns nil once the record is
// marked completed.
func (c *Coordinator) transfer(ctx context.Context, slug string) error {
	for ev := range c.catalog.Download(ctx, slug) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch e := ev.(type) {
		case Progress:
			c.setRecord(slug, func(rec domain.ModelDownloadState) domain.ModelDownloadState {
				rec.Slug = slug
				rec.IsDownloading = true
				rec.Progress = max(rec.Progress, clamp(e.Fraction))
				rec.BytesDownloaded = e.BytesDownloaded
				rec.TotalBytes = e.TotalBytes
				return rec
			})
		case Completed:
			if c.Downloads.Get()[slug].Progress < 1 {
				c.setRecord(slug, func(rec domain.ModelDownloadState) domain.ModelDownloadState {
					rec.Progress = 1
					if rec.TotalBytes > 0 {
						rec.BytesDownloaded = rec.TotalBytes
					}
					return rec
				})
			}
			c.setRecord(slug, func(rec domain.ModelDownloadState) domain.ModelDownloadState {
				rec.IsDownloading = false
				rec.Completed = true
				rec.Error = ""
				return rec
			})
			return nil
		case Failed:
			if e.Err == nil {
				return errors.New("download failed")
			}
			return e.Err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStreamEnded
}

func (c *Coordinator) fail(slug string, err error) {
	c.logger.Warn("[DOWNLOAD] failed", "slug", slug, "error", err)
	var others int
	c.setRecord(slug, func(rec domain.ModelDownloadState) domain.ModelDownloadState {
		rec.Slug = slug
		rec.IsDownloading = false
		rec.Completed = false
		rec.Error = err.Error()
		return rec
	})
	for s, rec := range c.Downloads.Get() {
		if s != slug && rec.IsDownloading {
			others++
		}
	}
	if others == 0 {
		c.updateUI(func(u domain.UIState) domain.UIState {
			u.StatusMessage = "Download failed: " + err.Error()
			return u
		})
	}
}

// syncCatalog refreshes the catalog until slug is listed as downloaded.
func (c *Coordinator) syncCatalog(ctx context.Context, slug string) error {
	delay := c.cfg.SyncBaseDelay
	for attempt := 1; ; attempt++ {
		models, err := c.RefreshCatalog(ctx)
		if err == nil && registered(models, slug) {
			return nil
		}
		if attempt >= c.cfg.SyncAttempts {
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrNotRegistered, slug)
		}
		c.logger.Debug("[DOWNLOAD] waiting for catalog", "slug", slug, "attempt", attempt, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Coordinator) scheduleClear(slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	if t, ok := c.timers[slug]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.ClearAfter, func() {
		c.mu.Lock()
		if c.timers[slug] != timer {
			c.mu.Unlock()
			return
		}
		delete(c.timers, slug)
		_, running := c.tasks[slug]
		c.mu.Unlock()
		if !running {
			c.removeRecord(slug)
			c.catalog.ClearState(slug)
		}
	})
	c.timers[slug] = timer
}

func (c *Coordinator) finishTask(slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, slug)
}

func (c *Coordinator) setRecord(slug string, fn func(domain.ModelDownloadState) domain.ModelDownloadState) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	next := c.Downloads.Update(func(cur map[string]domain.ModelDownloadState) map[string]domain.ModelDownloadState {
		m := maps.Clone(cur)
		if m == nil {
			m = make(map[string]domain.ModelDownloadState)
		}
		m[slug] = fn(m[slug])
		return m
	})
	c.project(slug, next)
}

func (c *Coordinator) removeRecord(slug string) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	next := c.Downloads.Update(func(cur map[string]domain.ModelDownloadState) map[string]domain.ModelDownloadState {
		if _, ok := cur[slug]; !ok {
			return cur
		}
		m := maps.Clone(cur)
		delete(m, slug)
		return m
	})
	c.project(slug, next)
}

// project recomputes Legacy after a change to the record of changed.
func (c *Coordinator) project(changed string, m map[string]domain.ModelDownloadState) {
	var active []domain.ModelDownloadState
	for _, rec := range m {
		if rec.IsDownloading {
			active = append(active, rec)
		}
	}

	switch len(active) {
	case 1:
		c.Legacy.Set(active[0])
	case 0:
		c.Legacy.Update(func(prev domain.ModelDownloadState) domain.ModelDownloadState {
			if rec, ok := m[changed]; ok {
				return rec
			}
			if prev.Slug == changed {
				return domain.ModelDownloadState{}
			}
			return prev
		})
	default:
		// Two or more downloads: keep the previous value.
	}
}

func (c *Coordinator) modelReady() bool {
	if c.ui == nil {
		return false
	}
	return c.ui.Get().IsModelReady
}

func (c *Coordinator) setStatusIfIdle(slug, msg string) {
	for s, rec := range c.Downloads.Get() {
		if s != slug && rec.IsDownloading {
			return
		}
	}
	c.updateUI(func(u domain.UIState) domain.UIState {
		u.StatusMessage = msg
		return u
	})
}

func (c *Coordinator) updateUI(fn func(domain.UIState) domain.UIState) {
	if c.ui != nil {
		c.ui.Update(fn)
	}
}

func registered(models []domain.ModelInfo, slug string) bool {
	for _, m := range models {
		if m.Slug == slug && m.Downloaded {
			return true
		}
	}
	return false
}

func clamp(f float64) float64 {
	return min(max(f, 0), 1)
}
