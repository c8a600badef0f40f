// Package worker runs scheduled maintenance: catalog refresh and message
// retention.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/screenpilot/internal/domain"
)

// cronParser accepts standard 5-field expressions and descriptors like @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const jobTimeout = 2 * time.Minute

// CatalogRefresher reloads the model catalog. *download.Coordinator
// satisfies it.
type CatalogRefresher interface {
	RefreshCatalog(ctx context.Context) ([]domain.ModelInfo, error)
}

// Pruner deletes old messages. *store.SQLiteStore satisfies it.
type Pruner interface {
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config configures a Worker. A zero Retention disables the sweep.
type Config struct {
	CatalogSchedule   string
	RetentionSchedule string
	Retention         time.Duration
	Logger            *slog.Logger
}

// Worker schedules the maintenance jobs.
type Worker struct {
	catalog   CatalogRefresher
	pruner    Pruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	catalogSched   cron.Schedule
	retentionSched cron.Schedule
}

// New validates the schedules and builds a worker.
func New(catalog CatalogRefresher, pruner Pruner, cfg Config) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Worker{
		catalog:   catalog,
		pruner:    pruner,
		retention: cfg.Retention,
		logger:    cfg.Logger,
		now:       time.Now,
	}

	var err error
	if w.catalogSched, err = cronParser.Parse(cfg.CatalogSchedule); err != nil {
		return nil, fmt.Errorf("catalog schedule %q: %w", cfg.CatalogSchedule, err)
	}
	if w.retentionSched, err = cronParser.Parse(cfg.RetentionSchedule); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", cfg.RetentionSchedule, err)
	}
	return w, nil
}

// Run performs one pass of every job, then follows the schedules until ctx
// is done. It waits for running jobs before returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Warn("[WORKER] initial maintenance pass failed", "error", err)
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(w.catalogSched, cron.FuncJob(func() { w.job(ctx, "catalog refresh", w.refreshCatalog) }))
	c.Schedule(w.retentionSched, cron.FuncJob(func() { w.job(ctx, "retention sweep", w.sweep) }))
	c.Start()
	w.logger.Info("[WORKER] maintenance worker started", "retention", w.retention)

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("[WORKER] maintenance worker shutting down", "reason", ctx.Err())
	return nil
}

// RunOnce runs every job concurrently and joins their errors.
func (w *Worker) RunOnce(ctx context.Context) error {
	var catalogErr, sweepErr error
	var g errgroup.Group
	g.Go(func() error {
		catalogErr = w.refreshCatalog(ctx)
		return nil
	})
	g.Go(func() error {
		sweepErr = w.sweep(ctx)
		return nil
	})
	_ = g.Wait()
	return errors.Join(catalogErr, sweepErr)
}

func (w *Worker) job(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		w.logger.Error("[WORKER] job failed", "job", name, "error", err)
		return
	}
	w.logger.Debug("[WORKER] job finished", "job", name, "duration", time.Since(start))
}

func (w *Worker) refreshCatalog(ctx context.Context) error {
	if w.catalog == nil {
		return nil
	}
	models, err := w.catalog.RefreshCatalog(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}
	w.logger.Info("[WORKER] catalog refreshed", "models", len(models))
	return nil
}

func (w *Worker) sweep(ctx context.Context) error {
	if w.pruner == nil || w.retention <= 0 {
		return nil
	}
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.pruner.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	if deleted > 0 {
		w.logger.Info("[WORKER] expired messages deleted", "count", deleted, "cutoff", cutoff)
	}
	return nil
}
