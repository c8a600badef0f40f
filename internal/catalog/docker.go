package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/download"
)

// dockerAPI is the subset of the Docker client the catalog uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	Close() error
}

const inspectConcurrency = 4

// DockerCatalog implements download.Catalog on top of the Docker engine.
type DockerCatalog struct {
	api     dockerAPI
	entries []Entry
	bySlug  map[string]Entry
	logger  *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

// NewDockerCatalog connects to the Docker engine from the environment.
func NewDockerCatalog(entries []Entry, logger *slog.Logger) (*DockerCatalog, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerCatalog(cli, entries, logger), nil
}

func newDockerCatalog(api dockerAPI, entries []Entry, logger *slog.Logger) *DockerCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	bySlug := make(map[string]Entry, len(entries))
	for _, e := range entries {
		bySlug[e.Slug] = e
	}
	return &DockerCatalog{
		api:     api,
		entries: entries,
		bySlug:  bySlug,
		logger:  logger,
		known:   make(map[string]bool),
	}
}

// Lookup returns the catalog entry for slug.
func (c *DockerCatalog) Lookup(slug string) (Entry, bool) {
	e, ok := c.bySlug[slug]
	return e, ok
}

// RefreshCatalog inspects every entry and reports which are present locally.
func (c *DockerCatalog) RefreshCatalog(ctx context.Context) ([]domain.ModelInfo, error) {
	infos := make([]domain.ModelInfo, len(c.entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inspectConcurrency)
	for i, e := range c.entries {
		g.Go(func() error {
			present, err := c.inspect(gctx, e)
			if err != nil {
				return err
			}
			infos[i] = e.info(present)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refresh catalog: %w", err)
	}
	return infos, nil
}

// IsDownloaded reports whether the model image is present. Results are
// cached until ClearState.
func (c *DockerCatalog) IsDownloaded(ctx context.Context, slug string) (bool, error) {
	e, ok := c.bySlug[slug]
	if !ok {
		return false, fmt.Errorf("%s: %w", slug, ErrUnknownModel)
	}
	c.mu.Lock()
	present, cached := c.known[slug]
	c.mu.Unlock()
	if cached {
		return present, nil
	}
	return c.inspect(ctx, e)
}

// ClearState forgets the cached presence of slug.
func (c *DockerCatalog) ClearState(slug string) {
	c.mu.Lock()
	delete(c.known, slug)
	c.mu.Unlock()
}

func (c *DockerCatalog) inspect(ctx context.Context, e Entry) (bool, error) {
	_, err := c.api.ImageInspect(ctx, e.Reference)
	switch {
	case err == nil:
		c.remember(e.Slug, true)
		return true, nil
	case errdefs.IsNotFound(err):
		c.remember(e.Slug, false)
		return false, nil
	default:
		return false, fmt.Errorf("inspect %s: %w", e.Reference, err)
	}
}

func (c *DockerCatalog) remember(slug string, present bool) {
	c.mu.Lock()
	c.known[slug] = present
	c.mu.Unlock()
}

// Download pulls the model image and streams aggregated layer progress.
func (c *DockerCatalog) Download(ctx context.Context, slug string) iter.Seq[download.Event] {
	return func(yield func(download.Event) bool) {
		e, ok := c.bySlug[slug]
		if !ok {
			yield(download.Failed{Err: fmt.Errorf("%s: %w", slug, ErrUnknownModel)})
			return
		}

		c.logger.Info("[CATALOG] pulling model", "slug", slug, "reference", e.Reference)
		rc, err := c.api.ImagePull(ctx, e.Reference, image.PullOptions{})
		if err != nil {
			yield(download.Failed{Err: fmt.Errorf("pull %s: %w", e.Reference, err)})
			return
		}
		defer func() {
			if closeErr := rc.Close(); closeErr != nil {
				c.logger.Debug("[CATALOG] failed to close pull stream", "error", closeErr)
			}
		}()

		layers := newLayerProgress(e.SizeBytes)
		dec := json.NewDecoder(rc)
		for {
			var msg jsonmessage.JSONMessage
			if err := dec.Decode(&msg); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				if ctx.Err() != nil {
					return
				}
				yield(download.Failed{Err: fmt.Errorf("read pull progress: %w", err)})
				return
			}
			if msg.Error != nil {
				yield(download.Failed{Err: fmt.Errorf("pull %s: %s", e.Reference, msg.Error.Message)})
				return
			}
			if p, changed := layers.apply(msg); changed {
				if !yield(p) {
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		c.remember(slug, true)
		c.logger.Info("[CATALOG] model pulled", "slug", slug)
		yield(download.Completed{})
	}
}

// Close releases the Docker client.
func (c *DockerCatalog) Close() error {
	return c.api.Close()
}

type layer struct {
	current, total int64
}

// layerProgress folds per-layer pull messages into one fraction.
type layerProgress struct {
	sizeHint int64
	layers   map[string]*layer
	last     float64
}

func newLayerProgress(sizeHint int64) *layerProgress {
	return &layerProgress{sizeHint: sizeHint, layers: make(map[string]*layer), last: -1}
}

func (lp *layerProgress) apply(msg jsonmessage.JSONMessage) (download.Progress, bool) {
	if msg.ID == "" {
		return download.Progress{}, false
	}
	l, ok := lp.layers[msg.ID]
	if !ok {
		l = &layer{}
		lp.layers[msg.ID] = l
	}
	switch msg.Status {
	case "Downloading":
		if msg.Progress != nil {
			l.current = msg.Progress.Current
			if msg.Progress.Total > 0 {
				l.total = msg.Progress.Total
			}
		}
	case "Download complete", "Pull complete", "Already exists":
		if l.total > 0 {
			l.current = l.total
		}
	default:
		return download.Progress{}, false
	}

	var current, total int64
	for _, l := range lp.layers {
		current += l.current
		total += l.total
	}
	if total == 0 {
		total = lp.sizeHint
	}
	if total <= 0 {
		return download.Progress{}, false
	}
	fraction := min(float64(current)/float64(total), 1)
	if fraction == lp.last {
		return download.Progress{}, false
	}
	lp.last = fraction
	return download.Progress{Fraction: fraction, BytesDownloaded: current, TotalBytes: total}, true
}

var _ download.Catalog = (*DockerCatalog)(nil)
