package lmstudio

// Model represents a unified model structure for both downloaded and loaded models
type Model struct {
	// Common fields
	ModelKey          string `json:"modelKey"`
	Path              string `json:"path"`
	Type              string `json:"type"`
	Format            string `json:"format,omitempty"`
	Size              int64  `json:"sizeBytes,omitempty"`
	MaxContextLength  int    `json:"maxContextLength,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	Architecture      string `json:"architecture,omitempty"`
	Vision            bool   `json:"vision,omitempty"`
	TrainedForToolUse bool   `json:"trainedForToolUse,omitempty"`

	// Fields specific to loaded models
	Identifier        string `json:"identifier,omitempty"`
	InstanceReference string `json:"instanceReference,omitempty"`
	ContextLength     int    `json:"contextLength,omitempty"`

	// Internal tracking - not from JSON
	IsLoaded bool `json:"-"`
}

// Name returns the most specific name available for display.
func (m Model) Name() string {
	switch {
	case m.IsLoaded && m.Identifier != "":
		return m.Identifier
	case m.ModelKey != "":
		return m.ModelKey
	case m.Identifier != "":
		return m.Identifier
	default:
		return m.DisplayName
	}
}

// Matches reports whether the model is addressed by key or identifier.
func (m Model) Matches(name string) bool {
	return name != "" && (m.ModelKey == name || m.Identifier == name)
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest describes a single prediction.
type ChatRequest struct {
	// Model is a model key or loaded identifier. The model is loaded on
	// demand if it is downloaded but not loaded.
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// PredictionStats are reported by the server when a prediction finishes.
type PredictionStats struct {
	StopReason           string  `json:"stopReason"`
	TokensPerSecond      float64 `json:"tokensPerSecond"`
	TimeToFirstTokenSec  float64 `json:"timeToFirstTokenSec"`
	PromptTokensCount    int     `json:"promptTokensCount"`
	PredictedTokensCount int     `json:"predictedTokensCount"`
	TotalTokensCount     int     `json:"totalTokensCount"`
}

// ChatResult is the complete reply of a prediction.
type ChatResult struct {
	Content string
	Stats   PredictionStats
}

// LoadOptions tune how a model is loaded.
type LoadOptions struct {
	// Identifier names the loaded instance. Defaults to the model key.
	Identifier    string
	ContextLength int
}

// LoadProgressFunc is called with load progress in [0,1]. model is the
// downloaded model being loaded, or nil when it is not known.
type LoadProgressFunc func(progress float64, model *Model)

// SearchResultIdentifier locates a search result in a model catalog.
type SearchResultIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// SearchResult is one model returned by a repository search.
type SearchResult struct {
	Name       string                 `json:"name"`
	Identifier SearchResultIdentifier `json:"identifier"`
	Exact      bool                   `json:"exact,omitempty"`
	StaffPick  bool                   `json:"staffPick,omitempty"`
}

// DownloadOption is one downloadable file set of a search result, usually
// a quantization.
type DownloadOption struct {
	Name                   string `json:"name"`
	ShortName              string `json:"shortName,omitempty"`
	Quantization           string `json:"quantization,omitempty"`
	Size                   int64  `json:"sizeBytes"`
	Recommended            bool   `json:"recommended,omitempty"`
	DownloadIdentifier     string `json:"downloadIdentifier"`
	IndexedModelIdentifier string `json:"indexedModelIdentifier,omitempty"`
}

// DownloadProgress is one download status update.
type DownloadProgress struct {
	DownloadedBytes     int64   `json:"downloadedBytes"`
	TotalBytes          int64   `json:"totalBytes"`
	SpeedBytesPerSecond float64 `json:"speedBytesPerSecond"`
}

// Fraction returns the completed share of the download in [0,1].
func (p DownloadProgress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return min(float64(p.DownloadedBytes)/float64(p.TotalBytes), 1)
}

// DownloadProgressFunc receives download status updates.
type DownloadProgressFunc func(DownloadProgress)

// ServerStatus describes LM Studio's OpenAI-compatible HTTP server.
type ServerStatus struct {
	Running bool `json:"running"`
	Port    int  `json:"port,omitempty"`
	CORS    bool `json:"cors,omitempty"`
}
