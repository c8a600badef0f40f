package download

import (
	"context"
	"iter"

	"github.com/ashureev/screenpilot/internal/domain"
)

// Event is one step of a catalog download stream. Implementations are
// Progress, Completed and Failed.
type Event interface {
	downloadEvent()
}

// Progress reports transfer progress in [0, 1].
type Progress struct {
	Fraction        float64
	BytesDownloaded int64
	TotalBytes      int64
}

// Completed ends a successful stream.
type Completed struct{}

// Failed ends an unsuccessful stream.
type Failed struct {
	Err error
}

func (Progress) downloadEvent()  {}
func (Completed) downloadEvent() {}
func (Failed) downloadEvent()    {}

// Catalog knows the downloadable models and transfers them.
type Catalog interface {
	RefreshCatalog(ctx context.Context) ([]domain.ModelInfo, error)
	// Download streams Progress* followed by Completed or Failed. The stream
	// stops early when ctx is cancelled.
	Download(ctx context.Context, slug string) iter.Seq[Event]
	ClearState(slug string)
	IsDownloaded(ctx context.Context, slug string) (bool, error)
}

// Loader initializes a downloaded model in the local engine.
type Loader interface {
	LoadModel(ctx context.Context, slug string) error
}
