package services

import (
	"context"
	"time"

	"variations/internal/orchestrator"
	"variations/internal/presets"
	"variations/internal/providers"
	"variations/types"
	"variations/utils"

	"github.com/gofiber/fiber/v2"
)

const localStatusTimeout = 3 * time.Second

func (a *Api) Health() fiber.Handler {
	return func(ctx *fiber.Ctx) error {

		return ctx.Status(fiber.StatusOK).JSON(types.HealthResponse{
			Status:    fiber.StatusOK,
			TimeStamp: time.Now().Unix(),
		})
	}
}

// Providers lists every supported provider and whether it can be called
// without a per-request key.
func (a *Api) Providers() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		out := types.ProvidersResponse{
			Defaults: types.Defaults{
				Provider:    a.defaults.Provider,
				Strength:    a.defaults.Strength,
				MinStrength: a.defaults.MinStrength,
				MaxStrength: a.defaults.MaxStrength,
				Variations:  a.defaults.Variations,
			},
		}

		for _, p := range providers.All() {
			info := types.ProviderInfo{
				Name:       string(p),
				Configured: a.credentials[p].Get(providers.KeyAPIKey, "") != "",
			}
			if p == providers.Local {
				info.Configured = a.local != nil
				if a.local != nil {
					info.Local = a.localStatus(ctx.UserContext())
				}
			}
			out.Providers = append(out.Providers, info)
		}

		return ctx.Status(fiber.StatusOK).JSON(out)
	}
}

func (a *Api) localStatus(parent context.Context) *types.LocalStatus {
	ctx, cancel := context.WithTimeout(parent, localStatusTimeout)
	defer cancel()

	st, err := a.local.Status(ctx)
	if err != nil {
		return &types.LocalStatus{Error: err.Error()}
	}
	return &types.LocalStatus{Loaded: st.Loaded, Model: st.Model, Device: st.Device}
}

func (a *Api) Styles() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(presets.Categories())
	}
}

// Transform runs one request synchronously. The response is 200 when at
// least one variation succeeded, otherwise it carries the status of the
// most fatal variation error.
func (a *Api) Transform() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		logger := HttpLogger("transform", ctx)

		req, err := a.parseParams(ctx)
		if err != nil {
			return writeError(ctx, err, "invalid parameters")
		}

		fh, err := ctx.FormFile("image")
		if err != nil {
			return writeError(ctx, providers.NewError(providers.KindInvalidInput, "image file is required"), "invalid body")
		}
		req.Image, req.Format, err = a.readUpload(fh)
		if err != nil {
			return writeError(ctx, err, "invalid image")
		}

		outcomes, err := a.runner.Run(ctx.UserContext(), req)
		if err != nil {
			logger.Warn("transform rejected", "provider", req.Provider, "err", err)
			return writeError(ctx, err, "transformation rejected")
		}

		resp := types.TransformResponse{
			Provider:   string(req.Provider),
			Strength:   req.Strength,
			Variations: make([]types.Variation, 0, len(outcomes)),
		}
		var worst providers.ErrorKind
		for _, oc := range outcomes {
			resp.Variations = append(resp.Variations, variation(oc))
			if oc.OK() {
				resp.Succeeded++
				continue
			}
			resp.Failed++
			if oc.Err != nil {
				worst = providers.Worse(worst, oc.Err.Kind)
			}
		}
		logger.Info("transform done", "provider", req.Provider, "succeeded", resp.Succeeded, "failed", resp.Failed)

		status := fiber.StatusOK
		if resp.Succeeded == 0 && worst != "" {
			status = statusFor(worst)
		}
		return ctx.Status(status).JSON(resp)
	}
}

func variation(oc orchestrator.Outcome) types.Variation {
	v := types.Variation{VariationIndex: oc.VariationIndex, Seed: oc.Seed, Error: errorRecord(oc.Err)}
	if r := oc.Result; r != nil {
		v.Image = r.Image
		v.MimeType = r.MimeType
		v.Filename = utils.DownloadName("variation", r.VariationIndex, r.MimeType)
		v.ElapsedMs = r.Elapsed.Milliseconds()
		v.Metadata = r.Metadata
	}
	return v
}

// UnloadLocal frees the local pipeline's GPU memory.
func (a *Api) UnloadLocal() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if a.local == nil {
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{
				Error:   "local pipeline not configured",
				Message: "service unavailable",
			})
		}
		if err := a.local.Unload(ctx.UserContext()); err != nil {
			HttpLogger("unload", ctx).Error("unload failed", "err", err)
			return writeError(ctx, err, "failed to unload local pipeline")
		}
		return ctx.Status(fiber.StatusOK).JSON(types.UnloadResponse{Unloaded: true})
	}
}
