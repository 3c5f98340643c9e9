package config

import "time"

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Api          ApiConfig          `yaml:"api"`
	Rpc          RpcConfig          `yaml:"rpc"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Batch        BatchConfig        `yaml:"batch"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ApiConfig struct {
	Port            string `yaml:"port"`
	AllowedOrigins  string `yaml:"allowed_origins"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	MaxUploadPixels int64  `yaml:"max_upload_pixels"`
}

// RpcConfig points at the diffusion sidecar backing the local provider.
// Leave Peer empty to run without it.
type RpcConfig struct {
	Peer     string        `yaml:"peer"`
	Port     string        `yaml:"port"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheDir string        `yaml:"cache_dir"`
}

type ProviderConfig struct {
	APIKey  string            `yaml:"api_key"`
	Model   string            `yaml:"model"`
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Extra   map[string]string `yaml:"extra"`
}

type ProvidersConfig struct {
	HuggingFace ProviderConfig `yaml:"huggingface"`
	Stability   ProviderConfig `yaml:"stability"`
	Leonardo    ProviderConfig `yaml:"leonardo"`
	DeepAI      ProviderConfig `yaml:"deepai"`
	Replicate   ProviderConfig `yaml:"replicate"`
	Local       ProviderConfig `yaml:"local"`
}

type OrchestratorConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	Parallelism   int           `yaml:"parallelism"`
}

type BatchConfig struct {
	QueueSize      int                `yaml:"queue_size"`
	RateLimitDelay time.Duration      `yaml:"rate_limit_delay"`
	Retention      time.Duration      `yaml:"retention"`
	ProviderRPS    map[string]float64 `yaml:"provider_rps"`
}

// DefaultsConfig holds what a client shows before the user picks anything.
// The strength bounds are a UI hint; requests may use the full [0, 1].
type DefaultsConfig struct {
	Provider    string  `yaml:"provider"`
	Strength    float64 `yaml:"strength"`
	MinStrength float64 `yaml:"min_strength"`
	MaxStrength float64 `yaml:"max_strength"`
	Variations  int     `yaml:"variations"`
}
