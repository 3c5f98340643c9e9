package stability

import (
	"context"
	"encoding/base64"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"variations/internal/clients/transport"
	"variations/internal/imaging"
	"variations/internal/providers"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL = "https://api.stability.ai"
	DefaultEngine  = "stable-diffusion-xl-1024-v1-0"
	DefaultPrompt  = "high quality, detailed, improved"
)

type Client struct {
	httpClient *http.Client
	log        *log.Logger
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "stability"),
	}
}

func (c *Client) Name() providers.Provider { return providers.Stability }

func (c *Client) Transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	out, err := c.transform(ctx, img, params, cfg)
	if err != nil {
		return nil, providers.AsError(err).WithProvider(providers.Stability)
	}
	return out, nil
}

// ImageStrength converts a change amount into the vendor's "how much of the
// init image to keep" field.
func ImageStrength(strength float64) float64 {
	return math.Round((1-strength)*1e4) / 1e4
}

func (c *Client) transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	key, err := providers.RequireAPIKey(providers.Stability, cfg)
	if err != nil {
		return nil, err
	}

	sized := img.NearestSDXL()
	initImage, err := sized.PNG()
	if err != nil {
		return nil, providers.InvalidInput(err)
	}

	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}

	form := transport.Form{
		Fields: []transport.Field{
			{Name: "text_prompts[0][text]", Value: prompt},
			{Name: "text_prompts[0][weight]", Value: "1"},
			{Name: "image_strength", Value: fmtFloat(ImageStrength(params.Strength))},
			{Name: "init_image_mode", Value: "IMAGE_STRENGTH"},
			{Name: "cfg_scale", Value: fmtFloat(cfg.Float("cfg_scale", 12))},
			{Name: "steps", Value: strconv.Itoa(cfg.Int("steps", 50))},
			{Name: "samples", Value: "1"},
			{Name: "seed", Value: strconv.FormatInt(params.Seed, 10)},
		},
		Files: []transport.File{
			{Field: "init_image", Filename: "image.png", ContentType: "image/png", Data: initImage},
		},
	}
	if neg := strings.TrimSpace(params.NegativePrompt); neg != "" {
		form.Fields = append(form.Fields,
			transport.Field{Name: "text_prompts[1][text]", Value: neg},
			transport.Field{Name: "text_prompts[1][weight]", Value: "-1"},
		)
	}

	engine := cfg.Get(providers.KeyModel, DefaultEngine)
	url := strings.TrimRight(cfg.Get(providers.KeyBaseURL, DefaultBaseURL), "/") + "/v1/generation/" + engine + "/image-to-image"
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + key,
	}

	c.log.Debug("submitting", "engine", engine, "width", sized.Width, "height", sized.Height)
	resp, err := transport.PostMultipart[Response](c.httpClient, ctx, url, form, headers)
	if err != nil {
		return nil, err
	}

	if len(resp.Artifacts) == 0 {
		return nil, providers.Malformed("no artifacts returned", nil)
	}
	art := resp.Artifacts[0]
	if art.FinishReason == FinishContentFiltered {
		return nil, providers.NewError(providers.KindProviderError, "caught by content filter, change the prompt")
	}
	if art.Base64 == "" {
		return nil, providers.Malformed("artifact without image data", nil)
	}
	data, err := base64.StdEncoding.DecodeString(art.Base64)
	if err != nil {
		return nil, providers.Malformed("artifact base64", err)
	}

	seed := params.Seed
	if art.Seed != 0 {
		seed = art.Seed
	}
	md := params.Metadata()
	md["engine"] = engine
	md["image_strength"] = fmtFloat(ImageStrength(params.Strength))
	md["finish_reason"] = art.FinishReason

	return &providers.Output{
		Image:    data,
		MimeType: http.DetectContentType(data),
		Seed:     seed,
		Metadata: md,
	}, nil
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
