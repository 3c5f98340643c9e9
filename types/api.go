package types

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type HealthResponse struct {
	Status    int   `json:"status"`
	TimeStamp int64 `json:"timestamp"`
}

type LocalStatus struct {
	Loaded bool   `json:"loaded"`
	Model  string `json:"model,omitempty"`
	Device string `json:"device,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ProviderInfo struct {
	Name       string       `json:"name"`
	Configured bool         `json:"configured"`
	Local      *LocalStatus `json:"local,omitempty"`
}

type Defaults struct {
	Provider    string  `json:"provider"`
	Strength    float64 `json:"strength"`
	MinStrength float64 `json:"minStrength"`
	MaxStrength float64 `json:"maxStrength"`
	Variations  int     `json:"variations"`
}

type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Defaults  Defaults       `json:"defaults"`
}

type ErrorRecord struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// Variation carries either an image or an error for one variation.
type Variation struct {
	VariationIndex int               `json:"variationIndex"`
	Seed           int64             `json:"seed"`
	Image          []byte            `json:"image,omitempty"`
	MimeType       string            `json:"mimeType,omitempty"`
	Filename       string            `json:"filename,omitempty"`
	ElapsedMs      int64             `json:"elapsedMs,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          *ErrorRecord      `json:"error,omitempty"`
}

type TransformResponse struct {
	Provider   string      `json:"provider"`
	Strength   float64     `json:"strength"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Variations []Variation `json:"variations"`
}

type BatchResponse struct {
	JobID string `json:"jobId"`
}

type UnloadResponse struct {
	Unloaded bool `json:"unloaded"`
}
