package deepai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"variations/internal/clients/transport"
	"variations/internal/imaging"
	"variations/internal/providers"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL = "https://api.deepai.org"
	DefaultPrompt  = "enhance, improve quality, detailed"
)

// DeepAI's image editor has no numeric strength, so strength picks how
// forcefully the instruction is worded.
const (
	TierSlight   = "slight"
	TierModerate = "moderate"
	TierComplete = "complete"
)

type Client struct {
	httpClient *http.Client
	log        *log.Logger
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "deepai"),
	}
}

func (c *Client) Name() providers.Provider { return providers.DeepAI }

func (c *Client) Transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	out, err := c.transform(ctx, img, params, cfg)
	if err != nil {
		return nil, providers.AsError(err).WithProvider(providers.DeepAI)
	}
	return out, nil
}

func Tier(strength float64) string {
	switch {
	case strength < 0.5:
		return TierSlight
	case strength < 0.7:
		return TierModerate
	default:
		return TierComplete
	}
}

// Instruction words prompt for the tier strength falls into.
func Instruction(prompt string, strength float64) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	switch Tier(strength) {
	case TierSlight:
		return "slightly modify: " + prompt + ", keep original style"
	case TierModerate:
		return "transform into: " + prompt
	default:
		return "completely transform into: " + prompt + ", creative interpretation"
	}
}

func (c *Client) transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	key, err := providers.RequireAPIKey(providers.DeepAI, cfg)
	if err != nil {
		return nil, err
	}

	raw, err := img.PNG()
	if err != nil {
		return nil, providers.InvalidInput(err)
	}

	text := Instruction(params.Prompt, params.Strength)
	form := transport.Form{
		Fields: []transport.Field{{Name: "text", Value: text}},
		Files:  []transport.File{{Field: "image", Filename: "image.png", ContentType: "image/png", Data: raw}},
	}
	headers := map[string]string{"api-key": key}
	url := strings.TrimRight(cfg.Get(providers.KeyBaseURL, DefaultBaseURL), "/") + "/api/image-editor"

	c.log.Debug("submitting", "tier", Tier(params.Strength))
	resp, err := transport.PostMultipart[Response](c.httpClient, ctx, url, form, headers)
	if err != nil {
		return nil, err
	}
	if resp.OutputURL == "" {
		msg := "no output_url in response"
		if resp.Err != "" {
			msg = resp.Err
		}
		return nil, providers.Malformed(msg, nil)
	}

	data, mimeType, err := transport.Download(c.httpClient, ctx, resp.OutputURL, nil)
	if err != nil {
		return nil, err
	}

	md := params.Metadata()
	md["tier"] = Tier(params.Strength)
	md["instruction"] = text
	if resp.ID != "" {
		md["job_id"] = resp.ID
	}
	// negative prompt and seed are not supported by the editor endpoint
	return &providers.Output{
		Image:    data,
		MimeType: mimeType,
		Seed:     params.Seed,
		Metadata: md,
	}, nil
}
