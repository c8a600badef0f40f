package domain

// ModelDownloadState is the per-model download record.
type ModelDownloadState struct {
	Slug            string  `json:"slug"`
	IsDownloading   bool    `json:"is_downloading"`
	Progress        float64 `json:"progress"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	Error           string  `json:"error,omitempty"`
	Completed       bool    `json:"completed"`
}

// ModelInfo is a catalog entry.
type ModelInfo struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Reference  string `json:"reference"`
	SizeBytes  int64  `json:"size_bytes"`
	Downloaded bool   `json:"downloaded"`
}

// SuggestionState is the suggestion panel state of a session. It is always
// replaced as a whole.
type SuggestionState struct {
	IsVisible              bool         `json:"is_visible"`
	IsLoading              bool         `json:"is_loading"`
	IsStreaming            bool         `json:"is_streaming"`
	StreamingText          string       `json:"streaming_text,omitempty"`
	Suggestions            []Suggestion `json:"suggestions"`
	Error                  string       `json:"error,omitempty"`
	FocusRegion            *FocusRegion `json:"focus_region,omitempty"`
	IsCloudInferenceActive bool         `json:"is_cloud_inference_active"`
	CanUseFastForward      bool         `json:"can_use_fast_forward"`
	LastScreenContext      string       `json:"last_screen_context,omitempty"`
	LastScreenState        *ScreenState `json:"-"`
}

// FocusSelection is the transient drag state of the focus selector.
type FocusSelection struct {
	IsSelecting   bool         `json:"is_selecting"`
	StartX        float64      `json:"start_x"`
	StartY        float64      `json:"start_y"`
	CurrentX      float64      `json:"current_x"`
	CurrentY      float64      `json:"current_y"`
	CurrentRegion *FocusRegion `json:"current_region,omitempty"`
}

// UIState aggregates the flags and counters shown by the presentation layer.
type UIState struct {
	IsModelLoading  bool   `json:"is_model_loading"`
	IsModelReady    bool   `json:"is_model_ready"`
	ActiveModel     string `json:"active_model,omitempty"`
	IsThinking      bool   `json:"is_thinking"`
	StatusMessage   string `json:"status_message,omitempty"`
	CurrentAction   string `json:"current_action,omitempty"`
	LastInferenceMs int64  `json:"last_inference_ms"`
	TotalTokens     int64  `json:"total_tokens"`
	ServiceRunning  bool   `json:"service_running"`
	OverlayEnabled  bool   `json:"overlay_enabled"`
}
