package local

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"variations/internal/imaging"
	"variations/internal/providers"
	"variations/utils"

	"github.com/charmbracelet/log"
)

const (
	DefaultModel   = "stabilityai/stable-diffusion-xl-refiner-1.0"
	DefaultPrompt  = "high quality, detailed, improved, professional"
	DefaultTimeout = 120 * time.Second
	MaxSide        = 1024
)

type Client struct {
	pipeline Pipeline
	cacheDir string
	log      *log.Logger
}

// NewClient runs transformations on pipeline with model weights resolved
// under cacheDir.
func NewClient(pipeline Pipeline, cacheDir string) *Client {
	return &Client{
		pipeline: pipeline,
		cacheDir: cacheDir,
		log:      log.With("component", "local"),
	}
}

func (c *Client) Name() providers.Provider { return providers.Local }

func (c *Client) Transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	out, err := c.transform(ctx, img, params, cfg)
	if err != nil {
		return nil, classify(err).WithProvider(providers.Local)
	}
	return out, nil
}

func (c *Client) transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	if c.pipeline == nil {
		return nil, providers.NewError(providers.KindProviderError, "local pipeline not configured")
	}

	model := cfg.Get(providers.KeyModel, DefaultModel)
	modelPath, err := utils.SafeSubdir(c.cacheDir, model)
	if err != nil {
		return nil, providers.Errorf(providers.KindInvalidInput, "model %q: %v", model, err)
	}

	sized := img.Thumbnail(MaxSide, MaxSide)
	raw, err := sized.PNG()
	if err != nil {
		return nil, providers.InvalidInput(err)
	}

	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration("timeout", DefaultTimeout))
	defer cancel()

	start := time.Now()
	resp, err := c.pipeline.Img2Img(ctx, Request{
		Model:          model,
		ModelPath:      modelPath,
		Image:          raw,
		Width:          sized.Width,
		Height:         sized.Height,
		Prompt:         prompt,
		NegativePrompt: strings.TrimSpace(params.NegativePrompt),
		Strength:       params.Strength,
		Seed:           params.Seed,
		Steps:          cfg.Int("steps", 30),
		GuidanceScale:  cfg.Float("guidance_scale", 7.5),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, providers.NewError(providers.KindTimeout, "local inference exceeded its time budget").WithCause(err)
		}
		return nil, err
	}
	if resp == nil || len(resp.Image) == 0 {
		return nil, providers.Malformed("pipeline returned no image", nil)
	}
	c.log.Info("inference done", "model", model, "device", resp.Device, "took", time.Since(start))

	seed := params.Seed
	if resp.Seed != 0 {
		seed = resp.Seed
	}
	md := params.Metadata()
	md["model"] = model
	if resp.Device != "" {
		md["device"] = resp.Device
	}
	if resp.Elapsed > 0 {
		md["inference_seconds"] = strconv.FormatFloat(resp.Elapsed, 'f', 2, 64)
	}

	return &providers.Output{
		Image:    resp.Image,
		MimeType: http.DetectContentType(resp.Image),
		Seed:     seed,
		Metadata: md,
	}, nil
}

// classify keeps typed errors and reports everything else as a pipeline
// failure.
func classify(err error) *providers.Error {
	var pe *providers.Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewError(providers.KindTimeout, "local inference timed out").WithCause(err)
	}
	if IsOutOfMemory(err) {
		return providers.NewError(providers.KindProviderError, "insufficient GPU memory, try a smaller image or lower strength").WithCause(err)
	}
	return providers.NewError(providers.KindProviderError, "local inference failed").WithCause(err)
}

func IsOutOfMemory(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "out of memory")
}
