package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/screenpilot/internal/identity"
	"github.com/ashureev/screenpilot/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	CORSOrigins []string
	// SessionID is echoed on every response when set.
	SessionID string
}

// NewRouter builds the daemon's HTTP router with the global middleware stack.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.SessionID != "" {
		r.Use(identity.Middleware(cfg.SessionID))
	}

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the API and WebSocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/ui", h.GetUI)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/messages", h.GetMessages)
			r.Post("/", h.SendChat)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			r.Post("/refresh", h.RefreshModels)
			r.Post("/{slug}/load", h.LoadModel)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", h.GetDownloads)
			r.Post("/{slug}", h.StartDownload)
			r.Delete("/{slug}", h.CancelDownload)
			r.Post("/{slug}/clear", h.ClearDownload)
		})

		r.Route("/cloud/model", func(r chi.Router) {
			r.Get("/", h.GetCloudModel)
			r.Put("/", h.SetCloudModel)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", h.GetSuggestions)
			r.Post("/", h.StartSuggestions)
			r.Delete("/", h.DismissSuggestions)
			r.Get("/stream", h.StreamSuggestions)
		})
		r.Post("/text-options", h.TextOptions)

		r.Route("/focus", func(r chi.Router) {
			r.Get("/", h.GetFocus)
			r.Post("/start", h.FocusStart)
			r.Post("/update", h.FocusUpdate)
			r.Post("/end", h.FocusEnd)
			r.Post("/clear", h.FocusClear)
			r.Post("/cancel", h.FocusCancel)
		})
	})

	r.Get("/ws/state", h.StateWebSocket)
	if h.device != nil {
		r.Get("/ws/device", h.device.ServeHTTP)
	}
}
