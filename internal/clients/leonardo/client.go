package leonardo

import (
	"context"
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
	DefaultBaseURL = "https://cloud.leonardo.ai/api/rest/v1"
	// DefaultModel is Leonardo Phoenix.
	DefaultModel          = "6b645e3a-d64f-4341-a6d8-7a3690fbf042"
	DefaultPrompt         = "high quality, detailed, professional, improved"
	DefaultNegativePrompt = "low quality, blurry, distorted"

	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 120 * time.Second
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
		log:        log.With("component", "leonardo"),
	}
}

func (c *Client) Name() providers.Provider { return providers.Leonardo }

func (c *Client) Transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	out, err := c.transform(ctx, img, params, cfg)
	if err != nil {
		return nil, providers.AsError(err).WithProvider(providers.Leonardo)
	}
	return out, nil
}

func (c *Client) transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	key, err := providers.RequireAPIKey(providers.Leonardo, cfg)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(cfg.Get(providers.KeyBaseURL, DefaultBaseURL), "/")
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + key,
	}

	sized := img.FitMultipleOf(8, 1024)
	dataURL, err := sized.DataURL()
	if err != nil {
		return nil, providers.InvalidInput(err)
	}

	upload, err := transport.PostJSON[InitImageRequest, InitImageResponse](c.httpClient, ctx, base+"/init-image", InitImageRequest{
		Extension:    "png",
		Name:         "init_image.png",
		ImageDataURL: dataURL,
	}, headers)
	if err != nil {
		return nil, err
	}
	initID := upload.UploadInitImage.ID
	if initID == "" {
		return nil, providers.Malformed("init image upload returned no id", nil)
	}

	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	negative := strings.TrimSpace(params.NegativePrompt)
	if negative == "" {
		negative = DefaultNegativePrompt
	}
	model := cfg.Get(providers.KeyModel, DefaultModel)

	gen, err := transport.PostJSON[GenerationRequest, GenerationResponse](c.httpClient, ctx, base+"/generations", GenerationRequest{
		ModelID:           model,
		Prompt:            prompt,
		NegativePrompt:    negative,
		InitStrength:      params.Strength,
		InitImageID:       initID,
		Width:             sized.Width,
		Height:            sized.Height,
		NumImages:         1,
		GuidanceScale:     cfg.Float("guidance_scale", 7),
		NumInferenceSteps: cfg.Int("steps", 30),
		Seed:              params.Seed,
	}, headers)
	if err != nil {
		return nil, err
	}
	genID := gen.SDGenerationJob.GenerationID
	if genID == "" {
		return nil, providers.Malformed("generation returned no id", nil)
	}
	c.log.Info("generation started", "generationId", genID, "initImageId", initID)

	var done Generation
	err = transport.Poll(ctx,
		cfg.Duration("poll_interval", DefaultPollInterval),
		cfg.Duration("poll_timeout", DefaultPollTimeout),
		func(ctx context.Context) (bool, error) {
			st, err := transport.Get[StatusResponse](c.httpClient, ctx, base+"/generations/"+genID, headers)
			if err != nil {
				return false, err
			}
			c.log.Debug("generation status", "generationId", genID, "status", st.Generation.Status)
			switch st.Generation.Status {
			case StatusComplete:
				done = st.Generation
				return true, nil
			case StatusFailed:
				return false, providers.Errorf(providers.KindProviderError, "generation %s failed", genID)
			}
			return false, nil
		})
	if err != nil {
		return nil, err
	}

	if len(done.GeneratedImages) == 0 || done.GeneratedImages[0].URL == "" {
		return nil, providers.Malformed("completed generation has no image", nil)
	}

	data, mimeType, err := transport.Download(c.httpClient, ctx, done.GeneratedImages[0].URL, nil)
	if err != nil {
		return nil, err
	}

	seed := params.Seed
	if done.Seed != 0 {
		seed = done.Seed
	}
	md := params.Metadata()
	md["model"] = model
	md["generation_id"] = genID
	md["init_strength"] = strconv.FormatFloat(params.Strength, 'f', -1, 64)
	if !done.CreatedAt.IsZero() {
		md["created_at"] = done.CreatedAt.UTC().Format(time.RFC3339)
	}

	return &providers.Output{
		Image:    data,
		MimeType: mimeType,
		Seed:     seed,
		Metadata: md,
	}, nil
}
