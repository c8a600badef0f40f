package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/screenpilot/internal/cloud"
	"github.com/ashureev/screenpilot/internal/domain"
)

// DownloadRequest is the optional body of POST /api/downloads/{slug}.
type DownloadRequest struct {
	// AutoLoad defaults to true.
	AutoLoad *bool `json:"auto_load,omitempty"`
}

// CloudModelRequest is the body of PUT /api/cloud/model.
type CloudModelRequest struct {
	Model string `json:"model"`
}

// ListModels handles GET /api/models with the last catalog listing.
func (h *Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	models := get(h.cells.Models)
	if models == nil {
		models = []domain.ModelInfo{}
	}
	JSON(w, http.StatusOK, map[string]any{"models": models})
}

// RefreshModels handles POST /api/models/refresh.
func (h *Handler) RefreshModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.downloads.RefreshCatalog(r.Context())
	if err != nil {
		h.logger.Warn("catalog refresh failed", "error", err)
		Error(w, http.StatusBadGateway, "catalog refresh failed: "+err.Error())
		return
	}
	if models == nil {
		models = []domain.ModelInfo{}
	}
	JSON(w, http.StatusOK, map[string]any{"models": models})
}

// LoadModel handles POST /api/models/{slug}/load.
func (h *Handler) LoadModel(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.downloads.LoadModel(r.Context(), slug); err != nil {
		h.logger.Warn("model load failed", "slug", slug, "error", err)
		Error(w, http.StatusBadGateway, "load failed: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, get(h.cells.UI))
}

// GetDownloads handles GET /api/downloads.
func (h *Handler) GetDownloads(w http.ResponseWriter, _ *http.Request) {
	downloads := get(h.cells.Downloads)
	if downloads == nil {
		downloads = map[string]domain.ModelDownloadState{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"downloads": downloads,
		"current":   get(h.cells.LegacyDownload),
	})
}

// StartDownload handles POST /api/downloads/{slug}.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req DownloadRequest
	if !decode(w, r, &req) {
		return
	}
	autoLoad := req.AutoLoad == nil || *req.AutoLoad

	if !h.downloads.StartDownload(slug, autoLoad) {
		Error(w, http.StatusConflict, "download already running")
		return
	}
	JSON(w, http.StatusAccepted, map[string]any{"slug": slug, "auto_load": autoLoad})
}

// CancelDownload handles DELETE /api/downloads/{slug}.
func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if !h.downloads.CancelDownload(chi.URLParam(r, "slug")) {
		Error(w, http.StatusNotFound, "no download running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearDownload handles POST /api/downloads/{slug}/clear.
func (h *Handler) ClearDownload(w http.ResponseWriter, r *http.Request) {
	h.downloads.ClearState(chi.URLParam(r, "slug"))
	w.WriteHeader(http.StatusNoContent)
}

// GetCloudModel handles GET /api/cloud/model.
func (h *Handler) GetCloudModel(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"model":  h.cloud.Current(),
		"models": cloud.Models,
	})
}

// SetCloudModel handles PUT /api/cloud/model.
func (h *Handler) SetCloudModel(w http.ResponseWriter, r *http.Request) {
	var req CloudModelRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := cloud.ParseModel(req.Model)
	if err == nil {
		err = h.cloud.Set(r.Context(), m)
	}
	if errors.Is(err, cloud.ErrUnknownModel) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to save cloud model", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save cloud model")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"model": m})
}
