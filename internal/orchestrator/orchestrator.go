package orchestrator

import (
	"context"
	"math"
	"time"

	"variations/internal/imaging"
	"variations/internal/metrics"
	"variations/internal/providers"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

type Orchestrator struct {
	registry *providers.Registry
	pre      imaging.Preprocessor
	policy   Policy
	seeds    SeedSource
	metrics  *metrics.Collector
	log      *log.Logger
}

type Option func(*Orchestrator)

func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p.withDefaults() }
}

func WithSeedSource(s SeedSource) Option {
	return func(o *Orchestrator) { o.seeds = s }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithPreprocessor(p imaging.Preprocessor) Option {
	return func(o *Orchestrator) { o.pre = p }
}

func New(registry *providers.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		pre:      imaging.NewPreprocessor(imaging.DefaultMaxBytes),
		policy:   DefaultPolicy(),
		seeds:    defaultSeedSource(),
		log:      log.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run validates req, then produces exactly req.Variations outcomes ordered
// by variation index. The returned error is non-nil only when the request
// itself is invalid, in which case no provider was called.
func (o *Orchestrator) Run(ctx context.Context, req Request) ([]Outcome, error) {
	adapter, img, seeds, err := o.prepare(req)
	if err != nil {
		o.log.Warn("request rejected", "provider", req.Provider, "err", err)
		return nil, err
	}

	o.log.Info("transform started", "provider", req.Provider, "variations", req.Variations, "strength", req.Strength, "width", img.Width, "height", img.Height)

	outcomes := make([]Outcome, req.Variations)

	g := new(errgroup.Group)
	g.SetLimit(o.policy.Parallelism)
	for i := range outcomes {
		params := providers.Params{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Strength:       req.Strength,
			Seed:           seeds[i],
		}
		g.Go(func() error {
			outcomes[i] = o.variation(ctx, adapter, img, params, req.Config, i)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, oc := range outcomes {
		if oc.OK() {
			ok++
		}
	}
	o.log.Info("transform finished", "provider", req.Provider, "ok", ok, "failed", len(outcomes)-ok)

	return outcomes, nil
}

func (o *Orchestrator) prepare(req Request) (providers.Adapter, *imaging.NormalizedImage, []int64, error) {
	invalid := func(format string, args ...any) error {
		return providers.Errorf(providers.KindInvalidInput, format, args...).WithProvider(req.Provider)
	}

	if math.IsNaN(req.Strength) || req.Strength < 0 || req.Strength > 1 {
		return nil, nil, nil, invalid("strength must be within [0, 1], got %v", req.Strength)
	}
	if req.Variations < MinVariations || req.Variations > MaxVariations {
		return nil, nil, nil, invalid("variation count must be within [%d, %d], got %d", MinVariations, MaxVariations, req.Variations)
	}
	if len(req.Seeds) > 0 && len(req.Seeds) != req.Variations {
		return nil, nil, nil, invalid("got %d seeds for %d variations", len(req.Seeds), req.Variations)
	}

	adapter, err := o.registry.Get(req.Provider)
	if err != nil {
		return nil, nil, nil, err
	}

	img, err := o.pre.Normalize(req.Image, req.Format)
	if err != nil {
		return nil, nil, nil, providers.InvalidInput(err).WithProvider(req.Provider)
	}

	seeds := req.Seeds
	if len(seeds) == 0 {
		seeds = o.seeds.Seeds(req.Variations)
	}
	return adapter, img, seeds, nil
}

func (o *Orchestrator) variation(ctx context.Context, adapter providers.Adapter, img *imaging.NormalizedImage, params providers.Params, cfg providers.Config, index int) Outcome {
	name := adapter.Name()
	start := time.Now()
	attempts := 0
	hint := time.Duration(0)

	op := func() (*providers.Output, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, o.policy.callTimeout(cfg))
		defer cancel()

		t0 := time.Now()
		out, err := adapter.Transform(callCtx, img, params, cfg.Clone())
		if err == nil && out == nil {
			err = providers.Malformed("adapter returned no output", nil)
		}
		if err != nil {
			pe := providers.AsError(err).WithProvider(name)
			o.metrics.RecordProviderCall(string(name), string(pe.Kind), time.Since(t0))
			if !pe.Retryable {
				return nil, backoff.Permanent(pe)
			}
			hint = pe.RetryAfter
			return nil, pe
		}
		o.metrics.RecordProviderCall(string(name), "ok", time.Since(t0))
		return out, nil
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&hintBackOff{base: o.policy.Backoff, max: o.policy.MaxRetryAfter, hint: &hint}),
		backoff.WithMaxTries(uint(o.policy.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			kind := providers.KindOf(err)
			o.metrics.RecordRetry(string(name), string(kind))
			o.log.Warn("retrying variation", "provider", name, "variation", index, "kind", kind, "in", next)
		}),
	)

	oc := Outcome{VariationIndex: index, Seed: params.Seed}
	if err != nil {
		oc.Err = providers.AsError(err).WithProvider(name)
		o.metrics.RecordVariation(string(name), string(oc.Err.Kind))
		o.log.Error("variation failed", "provider", name, "variation", index, "attempts", attempts, "err", oc.Err)
		return oc
	}

	seed := params.Seed
	if out.Seed != 0 {
		seed = out.Seed
	}
	md := out.Metadata
	if md == nil {
		md = params.Metadata()
	}

	oc.Seed = seed
	oc.Result = &Result{
		VariationIndex: index,
		Image:          out.Image,
		MimeType:       out.MimeType,
		Seed:           seed,
		Elapsed:        time.Since(start),
		Metadata:       md,
	}
	o.metrics.RecordVariation(string(name), "ok")
	return oc
}

// hintBackOff waits base between attempts, or the provider's Retry-After
// hint when it is longer, capped at max.
type hintBackOff struct {
	base time.Duration
	max  time.Duration
	hint *time.Duration
}

func (b *hintBackOff) NextBackOff() time.Duration {
	d := b.base
	if h := *b.hint; h > d {
		d = h
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

func (b *hintBackOff) Reset() {}
