// Package focus turns drag gestures into a validated focus region.
package focus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

const (
	// DefaultMinSize is the smallest accepted region edge in pixels.
	DefaultMinSize = 50.0
	// DefaultSettleDelay is the pause before analysis is re-triggered.
	DefaultSettleDelay = 150 * time.Millisecond
)

// ErrNotSelecting is returned by End when no selection is in progress.
var ErrNotSelecting = errors.New("no selection in progress")

// Outcome is the result of ending a selection.
type Outcome int

const (
	// Accepted means the drag produced a new active region.
	Accepted Outcome = iota + 1
	// Rejected means the drag was too small and was discarded.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Surface is the overlay the user draws on.
type Surface interface {
	Close()
}

// Retrigger re-runs screen analysis for region, or for the full screen when
// region is nil.
type Retrigger func(region *domain.FocusRegion)

// Selector is the focus selection state machine:
// Idle -> Selecting -> {Accepted | Rejected} -> Idle.
type Selector struct {
	Selection *state.Cell[domain.FocusSelection]
	Region    *state.Cell[*domain.FocusRegion]

	surface     Surface
	retrigger   Retrigger
	minSize     float64
	settleDelay time.Duration
	afterFunc   func(time.Duration, func()) *time.Timer
	logger      *slog.Logger

	mu      sync.Mutex
	pending *time.Timer
}

// Option configures a Selector.
type Option func(*Selector)

// WithMinSize overrides DefaultMinSize.
func WithMinSize(px float64) Option {
	return func(s *Selector) { s.minSize = px }
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Selector) { s.settleDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) { s.logger = l }
}

// NewSelector creates an idle selector. surface may be nil.
func NewSelector(surface Surface, retrigger Retrigger, opts ...Option) *Selector {
	s := &Selector{
		Selection:   state.NewCell(domain.FocusSelection{}),
		Region:      state.NewCell[*domain.FocusRegion](nil),
		surface:     surface,
		retrigger:   retrigger,
		minSize:     DefaultMinSize,
		settleDelay: DefaultSettleDelay,
		afterFunc:   time.AfterFunc,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start anchors a new selection at (x, y).
func (s *Selector) Start(x, y float64) {
	s.Selection.Set(domain.FocusSelection{
		IsSelecting: true,
		StartX:      x,
		StartY:      y,
		CurrentX:    x,
		CurrentY:    y,
	})
}

// Update moves the live cursor. It is ignored outside a selection.
func (s *Selector) Update(x, y float64) {
	s.Selection.Update(func(sel domain.FocusSelection) domain.FocusSelection {
		if !sel.IsSelecting {
			return sel
		}
		sel.CurrentX = x
		sel.CurrentY = y
		return sel
	})
}

// End finishes the selection. A large enough drag becomes the active region;
// a small one is discarded and leaves the previous region untouched. Analysis
// is re-triggered in both cases.
func (s *Selector) End() (Outcome, error) {
	var sel domain.FocusSelection
	s.Selection.Update(func(cur domain.FocusSelection) domain.FocusSelection {
		sel = cur
		return domain.FocusSelection{}
	})
	if !sel.IsSelecting {
		return 0, ErrNotSelecting
	}

	outcome := Accepted
	region, err := domain.NewFocusRegion(sel.StartX, sel.StartY, sel.CurrentX, sel.CurrentY, s.minSize)
	if err != nil {
		outcome = Rejected
		s.logger.Debug("focus selection rejected", "error", err)
	} else {
		s.Region.Set(&region)
		s.logger.Debug("focus selection accepted", "bounds", region.Bounds.String())
	}

	s.finish()
	return outcome, nil
}

// Clear drops the active region and re-triggers full-screen analysis.
func (s *Selector) Clear() {
	s.Selection.Set(domain.FocusSelection{})
	s.Region.Set(nil)
	s.finish()
}

// Cancel aborts a selection and keeps the previously accepted region.
func (s *Selector) Cancel() {
	s.Selection.Set(domain.FocusSelection{})
	s.finish()
}

// Stop cancels a pending re-trigger.
func (s *Selector) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Selector) finish() {
	if s.surface != nil {
		s.surface.Close()
	}
	if s.retrigger == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = s.afterFunc(s.settleDelay, func() {
		s.retrigger(s.Region.Get())
	})
}
