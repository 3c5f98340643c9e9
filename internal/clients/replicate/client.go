package replicate

import (
	"context"
	"fmt"
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
	DefaultBaseURL = "https://api.replicate.com"
	// DefaultVersion is timbrooks/instruct-pix2pix.
	DefaultVersion = "30c1d0b916a6f8efce20493f5d61ee27491ab2a60437c13c588468b9810ec23f"
	DefaultPrompt  = "improve the image quality"

	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 120 * time.Second
)

type Client struct {
	httpClient *http.Client
	log        *log.Logger
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "replicate"),
	}
}

func (c *Client) Name() providers.Provider { return providers.Replicate }

func (c *Client) Transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	out, err := c.transform(ctx, img, params, cfg)
	if err != nil {
		return nil, providers.AsError(err).WithProvider(providers.Replicate)
	}
	return out, nil
}

// ImageGuidance maps strength onto instruct-pix2pix's image guidance, where
// larger values stay closer to the input. 0 gives 2.5, 1 gives 1.0.
func ImageGuidance(strength float64) float64 {
	return math.Round((1+1.5*(1-strength))*1e4) / 1e4
}

func (c *Client) transform(ctx context.Context, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config) (*providers.Output, error) {
	key, err := providers.RequireAPIKey(providers.Replicate, cfg)
	if err != nil {
		return nil, err
	}

	dataURL, err := img.DataURL()
	if err != nil {
		return nil, providers.InvalidInput(err)
	}

	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	version := cfg.Get(providers.KeyModel, DefaultVersion)
	base := strings.TrimRight(cfg.Get(providers.KeyBaseURL, DefaultBaseURL), "/")
	headers := map[string]string{
		"Authorization": "Bearer " + key,
		"Prefer":        "wait",
	}

	pred, err := transport.PostJSON[PredictionRequest, Prediction](c.httpClient, ctx, base+"/v1/predictions", PredictionRequest{
		Version: version,
		Input: Input{
			Image:              dataURL,
			Prompt:             prompt,
			NegativePrompt:     strings.TrimSpace(params.NegativePrompt),
			NumInferenceSteps:  cfg.Int("steps", 20),
			ImageGuidanceScale: ImageGuidance(params.Strength),
			GuidanceScale:      cfg.Float("guidance_scale", 7.5),
			Seed:               params.Seed,
		},
	}, headers)
	if err != nil {
		return nil, err
	}
	c.log.Info("prediction created", "id", pred.ID, "status", pred.Status)

	if !pred.Terminal() {
		getURL := pred.URLs.Get
		if getURL == "" {
			getURL = base + "/v1/predictions/" + pred.ID
		}
		delete(headers, "Prefer")

		err = transport.Poll(ctx,
			cfg.Duration("poll_interval", DefaultPollInterval),
			cfg.Duration("poll_timeout", DefaultPollTimeout),
			func(ctx context.Context) (bool, error) {
				p, err := transport.Get[Prediction](c.httpClient, ctx, getURL, headers)
				if err != nil {
					return false, err
				}
				pred = p
				return p.Terminal(), nil
			})
		if err != nil {
			return nil, err
		}
	}

	switch pred.Status {
	case StatusSucceeded:
	case StatusCanceled:
		return nil, providers.Errorf(providers.KindProviderError, "prediction %s was canceled", pred.ID)
	default:
		msg := "prediction failed"
		if pred.Error != nil {
			msg = fmt.Sprint(pred.Error)
		}
		return nil, providers.NewError(providers.KindProviderError, msg)
	}

	outURL := pred.FirstOutput()
	if outURL == "" {
		return nil, providers.Malformed("unexpected output format: "+string(pred.Output), nil)
	}

	data, mimeType, err := transport.Download(c.httpClient, ctx, outURL, nil)
	if err != nil {
		return nil, err
	}

	md := params.Metadata()
	md["prediction_id"] = pred.ID
	md["version"] = version
	md["image_guidance_scale"] = strconv.FormatFloat(ImageGuidance(params.Strength), 'f', -1, 64)
	if pred.Metrics.PredictTime > 0 {
		md["predict_time"] = strconv.FormatFloat(pred.Metrics.PredictTime, 'f', 2, 64)
	}
	if d := pred.CreatedAt.Until(pred.CompletedAt); d > 0 {
		md["total_time"] = strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
	}

	return &providers.Output{
		Image:    data,
		MimeType: mimeType,
		Seed:     params.Seed,
		Metadata: md,
	}, nil
}
