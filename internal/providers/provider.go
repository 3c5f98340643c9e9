package providers

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"variations/internal/imaging"
)

type Provider string

const (
	HuggingFace Provider = "huggingface"
	Stability   Provider = "stability"
	Leonardo    Provider = "leonardo"
	DeepAI      Provider = "deepai"
	Replicate   Provider = "replicate"
	Local       Provider = "local"
)

func All() []Provider {
	return []Provider{Local, Leonardo, DeepAI, HuggingFace, Replicate, Stability}
}

var aliases = map[string]Provider{
	"hf":           HuggingFace,
	"hugging face": HuggingFace,
	"stabilityai":  Stability,
	"stability ai": Stability,
	"leonardo.ai":  Leonardo,
	"local gpu":    Local,
	"local-gpu":    Local,
}

// Parse resolves a provider name, accepting the display names too.
func Parse(s string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, p := range All() {
		if key == string(p) {
			return p, nil
		}
	}
	if p, ok := aliases[key]; ok {
		return p, nil
	}
	return "", Errorf(KindInvalidInput, "unsupported provider %q", s)
}

// Well-known Config keys. Adapters may read others.
const (
	KeyAPIKey  = "api_key"
	KeyModel   = "model"
	KeyBaseURL = "base_url"
)

// Config is the opaque per-provider settings passed with every call.
type Config map[string]string

func (c Config) Get(key, fallback string) string {
	if v := strings.TrimSpace(c[key]); v != "" {
		return v
	}
	return fallback
}

func (c Config) Float(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(c.Get(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func (c Config) Int(key string, fallback int) int {
	if v, err := strconv.Atoi(c.Get(key, "")); err == nil {
		return v
	}
	return fallback
}

func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(c.Get(key, "")); err == nil && v > 0 {
		return v
	}
	return fallback
}

func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// RequireAPIKey fails with AuthFailed before any network call when the
// credential is missing.
func RequireAPIKey(p Provider, cfg Config) (string, error) {
	key := cfg.Get(KeyAPIKey, "")
	if key == "" {
		return "", NewError(KindAuthFailed, "api key not configured").WithProvider(p)
	}
	return key, nil
}

type Params struct {
	Prompt         string
	NegativePrompt string
	Strength       float64
	Seed           int64
}

// Metadata seeds the provider metadata with the caller's values as given.
func (p Params) Metadata() map[string]string {
	return map[string]string{
		"strength": strconv.FormatFloat(p.Strength, 'f', -1, 64),
		"seed":     strconv.FormatInt(p.Seed, 10),
	}
}

type Output struct {
	Image    []byte
	MimeType string
	Seed     int64
	Metadata map[string]string
}

// Adapter translates a normalized request into one vendor call.
type Adapter interface {
	Name() Provider
	Transform(ctx context.Context, img *imaging.NormalizedImage, params Params, cfg Config) (*Output, error)
}

type Registry struct {
	adapters map[Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(p Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, Errorf(KindInvalidInput, "no adapter registered for provider %q", p)
	}
	return a, nil
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p Provider) String() string { return string(p) }
