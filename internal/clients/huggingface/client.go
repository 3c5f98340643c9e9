package huggingface

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"variations/internal/clients/transport"
	"variations/internal/imaging"
	"variations/internal/providers"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL = "https://router.huggingface.co/hf-inference/models"
	DefaultPrompt  = "improve image quality, add details, enhance colors"

	defaultGuidance = 7.5
)

// DefaultModels are tried in order; none of them is gated.
var DefaultModels = []string{
	"timbrooks/instruct-pix2pix",
	"lllyasviel/sd-controlnet-canny",
	"stabilityai/stable-diffusion-xl-refiner-1.0",
}

var editVerbs = []string{"turn", "make", "change", "convert", "transform"}

type Hf struct {
	httpClient *http.Client
	log        *log.Logger
}

func NewHfClient(timeout time.Duration) *Hf {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Hf{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				if len(via) > 0 {
					if auth := via[0].Header.Get("Authorization"); auth != "" {
						req.Header.Set("Authorization", auth)
					}
				}
				return nil
			},
		},
		log: log.With("component", "huggingface"),
	}
}

func (hf *Hf) Name() providers.Provider { return providers.HuggingFace }

func (hf *Hf) Transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	out, err := hf.transform(ctx, img, params, cfg)
	if err != nil {
		return nil, providers.AsError(err).WithProvider(providers.HuggingFace)
	}
	return out, nil
}

func (hf *Hf) transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	key, err := providers.RequireAPIKey(providers.HuggingFace, cfg)
	if err != nil {
		return nil, err
	}

	b64, err := img.Base64PNG()
	if err != nil {
		return nil, providers.InvalidInput(err)
	}

	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}

	base := strings.TrimRight(cfg.Get(providers.KeyBaseURL, DefaultBaseURL), "/")
	headers := map[string]string{
		"Authorization": "Bearer " + key,
		"Accept":        "image/png",
	}

	var lastErr error
	for _, model := range models(cfg) {
		p := Parameters{
			Prompt:        prompt,
			Strength:      params.Strength,
			GuidanceScale: cfg.Float("guidance_scale", defaultGuidance),
			Seed:          params.Seed,
		}
		if isInstructModel(model) {
			p.Prompt = InstructPrompt(prompt)
		} else {
			p.NegativePrompt = params.NegativePrompt
		}

		url := base + "/" + model
		body, err := hf.post(ctx, url, Request{Inputs: b64, Parameters: p}, headers)
		if status(err) == http.StatusUnprocessableEntity {
			hf.log.Warn("payload rejected, trying nested shape", "model", model)
			alt := nestedRequest{Parameters: p}
			alt.Inputs.Image = b64
			alt.Inputs.Prompt = p.Prompt
			body, err = hf.post(ctx, url, alt, headers)
		}
		if err == nil {
			hf.log.Info("image transformed", "model", model, "bytes", len(body))
			md := params.Metadata()
			md["model"] = model
			return &providers.Output{
				Image:    body,
				MimeType: http.DetectContentType(body),
				Seed:     params.Seed,
				Metadata: md,
			}, nil
		}

		lastErr = err
		if !fallThrough(err) {
			return nil, err
		}
		hf.log.Warn("model unavailable", "model", model, "err", err)
	}

	if lastErr == nil {
		lastErr = providers.NewError(providers.KindInvalidInput, "no models configured")
	}
	return nil, lastErr
}

func (hf *Hf) post(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error) {
	raw, _, err := transport.PostJSONRaw(hf.httpClient, ctx, url, body, headers)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(http.DetectContentType(raw), "image/") {
		return nil, providers.Malformed("expected image bytes from "+url, nil)
	}
	return raw, nil
}

// InstructPrompt phrases prompt as an edit instruction unless it already is one.
func InstructPrompt(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, verb := range editVerbs {
		if strings.Contains(lower, verb) {
			return prompt
		}
	}
	return "transform this image: " + prompt
}

func models(cfg providers.Config) []string {
	raw := cfg.Get("models", cfg.Get(providers.KeyModel, ""))
	if raw == "" {
		return DefaultModels
	}
	var out []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.Trim(strings.TrimSpace(m), "/"); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func isInstructModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "instruct")
}

func status(err error) int {
	var pe *providers.Error
	if errors.As(err, &pe) {
		return pe.HTTPStatus
	}
	return 0
}

// fallThrough reports whether the next model is worth trying: the model is
// missing, warming up or refused the payload.
func fallThrough(err error) bool {
	switch status(err) {
	case http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusServiceUnavailable, http.StatusBadRequest:
		return true
	}
	return false
}
