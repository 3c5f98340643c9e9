package mediator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"variations/config"
	"variations/internal/batch"
	"variations/internal/clients/deepai"
	"variations/internal/clients/huggingface"
	"variations/internal/clients/leonardo"
	"variations/internal/clients/local"
	"variations/internal/clients/replicate"
	"variations/internal/clients/stability"
	"variations/internal/dependencies"
	"variations/internal/imaging"
	"variations/internal/metrics"
	"variations/internal/orchestrator"
	"variations/internal/providers"
	"variations/internal/services"

	"github.com/charmbracelet/log"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	api   *services.Api
	rpc   *dependencies.Rpc
	queue *batch.Queue

	cancel context.CancelFunc
	log    *log.Logger
	// settings
	Config *config.Config
}

func NewApp(cfg config.Config) (*App, error) {
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	logger := log.With("component", "app")

	var (
		rpc      *dependencies.Rpc
		pipeline local.Pipeline
		manager  local.Manager
	)
	if strings.TrimSpace(cfg.Rpc.Peer) != "" {
		var err error
		rpc, err = dependencies.NewRpc(cfg.Rpc.Peer, cfg.Rpc.Port)
		if err != nil {
			return nil, fmt.Errorf("error creating newapp: %w", err)
		}
		if cfg.Rpc.Timeout > 0 {
			rpc.SetTimeout(cfg.Rpc.Timeout)
		}
		pipeline, manager = rpc, rpc
	} else {
		logger.Warn("rpc peer not set, local provider disabled")
	}

	p := cfg.Providers
	registry := providers.NewRegistry(
		huggingface.NewHfClient(p.HuggingFace.Timeout),
		stability.NewClient(p.Stability.Timeout),
		leonardo.NewClient(p.Leonardo.Timeout),
		deepai.NewClient(p.DeepAI.Timeout),
		replicate.NewClient(p.Replicate.Timeout),
		local.NewClient(pipeline, cfg.Rpc.CacheDir),
	)

	m := metrics.NewCollector("variations")

	orch := orchestrator.New(registry,
		orchestrator.WithPolicy(orchestrator.Policy{
			MaxRetries:    cfg.Orchestrator.MaxRetries,
			Backoff:       cfg.Orchestrator.Backoff,
			MaxRetryAfter: cfg.Orchestrator.MaxRetryAfter,
			CallTimeout:   cfg.Orchestrator.CallTimeout,
			Parallelism:   cfg.Orchestrator.Parallelism,
		}),
		orchestrator.WithMetrics(m),
		orchestrator.WithPreprocessor(imaging.NewPreprocessor(cfg.Api.MaxUploadBytes).WithMaxPixels(cfg.Api.MaxUploadPixels)),
	)

	rps, err := providerRPS(cfg.Batch.ProviderRPS)
	if err != nil {
		if rpc != nil {
			rpc.Close()
		}
		return nil, fmt.Errorf("error creating newapp: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := services.NewHub()
	queue := batch.NewQueue(ctx, orch,
		batch.WithQueueSize(cfg.Batch.QueueSize),
		batch.WithRateLimitDelay(cfg.Batch.RateLimitDelay),
		batch.WithRetention(cfg.Batch.Retention),
		batch.WithProviderRPS(rps),
		batch.WithNotifier(hub),
		batch.WithMetrics(m),
	)

	deps := services.Deps{
		Runner:      orch,
		Queue:       queue,
		Hub:         hub,
		Metrics:     m,
		Credentials: credentials(p),
		Defaults:    cfg.Defaults,
		Local:       manager,
	}

	return &App{
		api:    services.NewApi(cfg.Api, deps),
		rpc:    rpc,
		queue:  queue,
		cancel: cancel,
		log:    logger,
		Config: &cfg,
	}, nil
}

// credentials turns the per-provider settings into the opaque Config each
// adapter reads.
func credentials(p config.ProvidersConfig) map[providers.Provider]providers.Config {
	out := map[providers.Provider]providers.Config{}
	for name, pc := range map[providers.Provider]config.ProviderConfig{
		providers.HuggingFace: p.HuggingFace,
		providers.Stability:   p.Stability,
		providers.Leonardo:    p.Leonardo,
		providers.DeepAI:      p.DeepAI,
		providers.Replicate:   p.Replicate,
		providers.Local:       p.Local,
	} {
		c := providers.Config{}
		for k, v := range pc.Extra {
			c[k] = v
		}
		set := func(k, v string) {
			if v = strings.TrimSpace(v); v != "" {
				c[k] = v
			}
		}
		set(providers.KeyAPIKey, pc.APIKey)
		set(providers.KeyModel, pc.Model)
		set(providers.KeyBaseURL, pc.BaseURL)
		if pc.Timeout > 0 {
			c["timeout"] = pc.Timeout.String()
		}
		out[name] = c
	}
	return out
}

func providerRPS(in map[string]float64) (map[providers.Provider]float64, error) {
	out := make(map[providers.Provider]float64, len(in))
	for name, r := range in {
		p, err := providers.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("batch.provider_rps: %w", err)
		}
		out[p] = r
	}
	return out, nil
}

// Start blocks until the API stops listening.
func (a *App) Start() error {
	a.queue.Run()
	return a.api.Start()
}

// Shutdown drains the batch queue, closes websockets and frees the local
// pipeline before dropping the sidecar connection.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.api.Shutdown(ctx); err != nil {
		a.log.Error("api shutdown", "err", err)
	}
	a.queue.Shutdown(ctx)
	a.cancel()

	if a.rpc != nil {
		if err := a.rpc.Unload(ctx); err != nil {
			a.log.Warn("unload local pipeline", "err", err)
		}
		a.rpc.Close()
	}
}
