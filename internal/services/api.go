package services

import (
	"context"
	"fmt"

	"variations/config"
	"variations/internal/batch"
	"variations/internal/clients/local"
	"variations/internal/imaging"
	"variations/internal/metrics"
	"variations/internal/providers"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Deps are the collaborators the API drives.
type Deps struct {
	Runner      batch.Runner
	Queue       *batch.Queue
	Hub         *Hub
	Metrics     *metrics.Collector
	Local       local.Manager // nil when no sidecar is configured
	Credentials map[providers.Provider]providers.Config
	Defaults    config.DefaultsConfig
}

type Api struct {
	server         *fiber.App
	port           string
	allowedOrigins string
	maxUpload      int64
	maxPixels      int64

	runner      batch.Runner
	queue       *batch.Queue
	hub         *Hub
	metrics     *metrics.Collector
	local       local.Manager
	credentials map[providers.Provider]providers.Config
	defaults    config.DefaultsConfig
}

func NewApi(cfg config.ApiConfig, d Deps) *Api {
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = "*"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = imaging.DefaultMaxBytes
	}
	if d.Hub == nil {
		d.Hub = NewHub()
	}
	if d.Credentials == nil {
		d.Credentials = map[providers.Provider]providers.Config{}
	}

	a := &Api{
		server: fiber.New(fiber.Config{
			// A batch carries several images.
			BodyLimit: int(cfg.MaxUploadBytes)*(batchMaxImages+1) + 1<<20,
		}),
		port:           cfg.Port,
		allowedOrigins: cfg.AllowedOrigins,
		maxUpload:      cfg.MaxUploadBytes,
		maxPixels:      cfg.MaxUploadPixels,
		runner:         d.Runner,
		queue:          d.Queue,
		hub:            d.Hub,
		metrics:        d.Metrics,
		local:          d.Local,
		credentials:    d.Credentials,
		defaults:       withDefaults(d.Defaults),
	}
	a.setup()
	return a
}

func withDefaults(d config.DefaultsConfig) config.DefaultsConfig {
	if d.Provider == "" {
		d.Provider = string(providers.Local)
	}
	if d.Strength <= 0 || d.Strength > 1 {
		d.Strength = 0.6
	}
	if d.MinStrength <= 0 {
		d.MinStrength = 0.3
	}
	if d.MaxStrength <= 0 {
		d.MaxStrength = 0.9
	}
	if d.Variations <= 0 {
		d.Variations = 1
	}
	return d
}

func (a *Api) setup() {
	allowCredentials := a.allowedOrigins != "*"

	a.server.Use(recover.New())
	a.server.Use(cors.New(cors.Config{
		AllowOrigins:     a.allowedOrigins,
		AllowCredentials: allowCredentials,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Content-Type,Authorization,Accept,Origin,X-Provider-Key",
		ExposeHeaders:    "X-Pixel-Diff,X-Request-Id",
	}))
	a.server.Use(RequestLogger(a.metrics))

	a.addRoutes()
}

// Start blocks serving the API until Shutdown.
func (a *Api) Start() error {
	log.Info("api listening", "port", a.port)
	return a.server.Listen(fmt.Sprint(":", a.port))
}

func (a *Api) Shutdown(ctx context.Context) error {
	a.hub.Shutdown()
	return a.server.ShutdownWithContext(ctx)
}

func (a *Api) addRoutes() {
	a.server.Add("GET", "/health", a.Health())
	a.server.Add("GET", "/providers", a.Providers())
	a.server.Add("GET", "/styles", a.Styles())
	a.server.Add("POST", "/transform", a.Transform())
	a.server.Add("POST", "/compare", a.Compare())
	a.server.Add("POST", "/local/unload", a.UnloadLocal())

	a.server.Add("POST", "/batches", a.SubmitBatch())
	a.server.Add("GET", "/batches/:id", a.PollBatch())
	a.server.Add("DELETE", "/batches/:id", a.ReleaseBatch())

	a.server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	// websocket connection
	a.server.Use("/ws", a.WsUpgrade())
	a.server.Get("/ws/:id", a.Notifications())
}
