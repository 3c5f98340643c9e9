package orchestrator

import (
	"time"

	"variations/internal/providers"
)

const (
	MinVariations = 1
	MaxVariations = 4
)

// adapterGrace lets an adapter's own timeout fire before the call deadline,
// so the error names the stage that ran out of time.
const adapterGrace = 5 * time.Second

// Request asks for Variations transformations of one source image.
type Request struct {
	Image          []byte
	Format         string // declared format: extension, filename or MIME type
	Prompt         string
	NegativePrompt string
	Strength       float64
	Variations     int
	Seeds          []int64 // optional, len must equal Variations
	Provider       providers.Provider
	Config         providers.Config
}

type Result struct {
	VariationIndex int               `json:"variationIndex"`
	Image          []byte            `json:"image"`
	MimeType       string            `json:"mimeType"`
	Seed           int64             `json:"seed"`
	Elapsed        time.Duration     `json:"elapsed"`
	Metadata       map[string]string `json:"metadata"`
}

// Outcome is either a Result or an error for one variation.
type Outcome struct {
	VariationIndex int              `json:"variationIndex"`
	Seed           int64            `json:"seed"`
	Result         *Result          `json:"result,omitempty"`
	Err            *providers.Error `json:"error,omitempty"`
}

func (o Outcome) OK() bool { return o.Err == nil && o.Result != nil }

// Policy bounds retries, timeouts and fan-out.
type Policy struct {
	MaxRetries    int
	Backoff       time.Duration
	MaxRetryAfter time.Duration
	CallTimeout   time.Duration
	Parallelism   int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    1,
		Backoff:       500 * time.Millisecond,
		MaxRetryAfter: 5 * time.Second,
		CallTimeout:   60 * time.Second,
		Parallelism:   4,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = d.MaxRetryAfter
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	if p.Parallelism <= 0 {
		p.Parallelism = d.Parallelism
	}
	return p
}

// callTimeout is the deadline of one adapter call. A provider that declares
// its own budget ("timeout" or "poll_timeout") gets that budget instead of
// CallTimeout.
func (p Policy) callTimeout(cfg providers.Config) time.Duration {
	budget := max(cfg.Duration("timeout", 0), cfg.Duration("poll_timeout", 0))
	if budget <= 0 {
		return p.CallTimeout
	}
	return budget + adapterGrace
}
