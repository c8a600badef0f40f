package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/screenpilot/internal/focus"
)

// PointRequest is the body of the focus drag endpoints.
type PointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GetFocus handles GET /api/focus.
func (h *Handler) GetFocus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"selection": get(h.cells.FocusSelection),
		"region":    get(h.cells.FocusRegion),
	})
}

// FocusStart handles POST /api/focus/start.
func (h *Handler) FocusStart(w http.ResponseWriter, r *http.Request) {
	var p PointRequest
	if !decode(w, r, &p) {
		return
	}
	h.focus.Start(p.X, p.Y)
	w.WriteHeader(http.StatusNoContent)
}

// FocusUpdate handles POST /api/focus/update.
func (h *Handler) FocusUpdate(w http.ResponseWriter, r *http.Request) {
	var p PointRequest
	if !decode(w, r, &p) {
		return
	}
	h.focus.Update(p.X, p.Y)
	w.WriteHeader(http.StatusNoContent)
}

// FocusEnd handles POST /api/focus/end.
func (h *Handler) FocusEnd(w http.ResponseWriter, _ *http.Request) {
	outcome, err := h.focus.End()
	if errors.Is(err, focus.ErrNotSelecting) {
		Error(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"outcome": outcome.String(),
		"region":  get(h.cells.FocusRegion),
	})
}

// FocusClear handles POST /api/focus/clear.
func (h *Handler) FocusClear(w http.ResponseWriter, _ *http.Request) {
	h.focus.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// FocusCancel handles POST /api/focus/cancel.
func (h *Handler) FocusCancel(w http.ResponseWriter, _ *http.Request) {
	h.focus.Cancel()
	w.WriteHeader(http.StatusNoContent)
}
