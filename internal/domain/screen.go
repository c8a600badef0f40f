package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrRegionTooSmall is returned when a focus region is below the minimum size.
var ErrRegionTooSmall = errors.New("focus region below minimum size")

// Rect is a rectangle in screen coordinates (pixels, origin top-left).
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Intersects reports whether r and o overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.Left < o.Right && o.Left < r.Right && r.Top < o.Bottom && o.Top < r.Bottom
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", r.Left, r.Top, r.Right, r.Bottom)
}

// FocusRegion is a user-selected sub-area of the screen that scopes analysis.
// It is only constructed through NewFocusRegion.
type FocusRegion struct {
	Bounds Rect `json:"bounds"`
}

// NewFocusRegion builds a region from two corner points. Both dimensions must
// be at least minSize, otherwise ErrRegionTooSmall is returned.
func NewFocusRegion(x1, y1, x2, y2, minSize float64) (FocusRegion, error) {
	width := math.Abs(x2 - x1)
	height := math.Abs(y2 - y1)
	if width < minSize || height < minSize {
		return FocusRegion{}, fmt.Errorf("%w: %gx%g < %g", ErrRegionTooSmall, width, height, minSize)
	}
	return FocusRegion{Bounds: Rect{
		Left:   math.Min(x1, x2),
		Top:    math.Min(y1, y2),
		Right:  math.Max(x1, x2),
		Bottom: math.Max(y1, y2),
	}}, nil
}

// UIElement is a node captured from the accessibility tree.
type UIElement struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text,omitempty"`
	Description string `json:"description,omitempty"`
	Class       string `json:"class,omitempty"`
	Bounds      Rect   `json:"bounds"`
	Clickable   bool   `json:"clickable,omitempty"`
	Editable    bool   `json:"editable,omitempty"`
	Scrollable  bool   `json:"scrollable,omitempty"`
}

// Label returns the most descriptive text of the element.
func (e UIElement) Label() string {
	switch {
	case e.Text != "":
		return e.Text
	case e.Description != "":
		return e.Description
	default:
		return e.ID
	}
}

// ScreenState is a snapshot of the foreground app as reported by the device.
type ScreenState struct {
	Package    string      `json:"package"`
	Activity   string      `json:"activity,omitempty"`
	Elements   []UIElement `json:"elements,omitempty"`
	Text       string      `json:"text,omitempty"`
	CapturedAt time.Time   `json:"captured_at"`
}

// maxSummaryElements bounds the prompt context derived from a screen.
const maxSummaryElements = 60

// Summary renders the screen as compact prompt context. When region is not
// nil only elements intersecting it are included.
func (s *ScreenState) Summary(region *FocusRegion) string {
	if s == nil {
		return "No screen context available."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "App: %s", s.Package)
	if s.Activity != "" {
		fmt.Fprintf(&b, " (%s)", s.Activity)
	}
	b.WriteString("\n")
	if region != nil {
		fmt.Fprintf(&b, "Focus region: %s\n", region.Bounds)
	}

	written := 0
	for _, el := range s.Elements {
		if region != nil && !el.Bounds.Intersects(region.Bounds) {
			continue
		}
		label := el.Label()
		if label == "" {
			continue
		}
		if written == maxSummaryElements {
			b.WriteString("...\n")
			break
		}
		var flags []string
		if el.Clickable {
			flags = append(flags, "clickable")
		}
		if el.Editable {
			flags = append(flags, "editable")
		}
		if el.Scrollable {
			flags = append(flags, "scrollable")
		}
		fmt.Fprintf(&b, "- [%s] %q", el.ID, label)
		if len(flags) > 0 {
			fmt.Fprintf(&b, " {%s}", strings.Join(flags, ","))
		}
		b.WriteString("\n")
		written++
	}

	if region == nil && s.Text != "" {
		fmt.Fprintf(&b, "Visible text: %s\n", s.Text)
	}
	return b.String()
}
