package services

import (
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"variations/internal/batch"
	"variations/internal/compare"
	"variations/internal/imaging"
	"variations/internal/orchestrator"
	"variations/internal/providers"
	"variations/types"
	"variations/utils"

	"github.com/gofiber/fiber/v2"
)

// SubmitBatch queues one request per uploaded image, all sharing the form
// parameters. Progress goes to the websocket of clientId, if any.
func (a *Api) SubmitBatch() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if a.queue == nil {
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{
				Error:   "batch queue not configured",
				Message: "service unavailable",
			})
		}

		shared, err := a.parseParams(ctx)
		if err != nil {
			return writeError(ctx, err, "invalid parameters")
		}

		form, err := ctx.MultipartForm()
		if err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "invalid body",
			})
		}
		files := form.File["image"]
		if len(files) == 0 {
			return writeError(ctx, providers.NewError(providers.KindInvalidInput, "at least one image file is required"), "invalid body")
		}
		if len(files) > batchMaxImages {
			return writeError(ctx, providers.Errorf(providers.KindInvalidInput, "at most %d images per batch, got %d", batchMaxImages, len(files)), "invalid body")
		}

		reqs := make([]orchestrator.Request, 0, len(files))
		for _, fh := range files {
			req := shared
			req.Config = shared.Config.Clone()
			req.Seeds = append([]int64(nil), shared.Seeds...)
			if req.Image, req.Format, err = a.readUpload(fh); err != nil {
				return writeError(ctx, err, "invalid image")
			}
			reqs = append(reqs, req)
		}

		clientID := strings.TrimSpace(ctx.FormValue("clientId"))
		jobID, err := a.queue.Submit(clientID, reqs)
		if err != nil {
			code := fiber.StatusServiceUnavailable
			switch {
			case errors.Is(err, batch.ErrQueueFull):
				code = fiber.StatusTooManyRequests
			case errors.Is(err, batch.ErrEmptyBatch):
				code = fiber.StatusBadRequest
			}
			return ctx.Status(code).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "failed to enqueue batch",
			})
		}

		HttpLogger("batch", ctx).Info("batch queued", "job", jobID, "client", clientID, "images", len(reqs), "provider", shared.Provider)
		return ctx.Status(fiber.StatusAccepted).JSON(types.BatchResponse{JobID: jobID})
	}
}

func (a *Api) PollBatch() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if a.queue == nil {
			return ctx.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{Error: batch.ErrJobNotFound.Error()})
		}
		job, err := a.queue.Poll(ctx.Params("id"))
		if err != nil {
			return ctx.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "unknown batch",
			})
		}
		return ctx.Status(fiber.StatusOK).JSON(job)
	}
}

// ReleaseBatch forgets a finished job once the client has its results.
func (a *Api) ReleaseBatch() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if a.queue == nil {
			return ctx.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{Error: batch.ErrJobNotFound.Error()})
		}
		err := a.queue.Release(ctx.Params("id"))
		switch {
		case err == nil:
			return ctx.SendStatus(fiber.StatusNoContent)
		case errors.Is(err, batch.ErrJobNotFinished):
			return ctx.Status(fiber.StatusConflict).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "batch still running",
			})
		default:
			return ctx.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "unknown batch",
			})
		}
	}
}

// Compare renders original against one or more transformed images as a PNG.
// mode is side (default), slider or grid.
func (a *Api) Compare() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		form, err := ctx.MultipartForm()
		if err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "invalid body",
			})
		}

		originals := form.File["original"]
		transformed := form.File["transformed"]
		if len(originals) != 1 || len(transformed) == 0 {
			return writeError(ctx, providers.NewError(providers.KindInvalidInput, "one original and at least one transformed image are required"), "invalid body")
		}

		orig, err := a.decodeUpload(originals[0])
		if err != nil {
			return writeError(ctx, err, "invalid original image")
		}
		outs := make([]*imaging.NormalizedImage, 0, len(transformed))
		for _, fh := range transformed {
			img, err := a.decodeUpload(fh)
			if err != nil {
				return writeError(ctx, err, "invalid transformed image")
			}
			outs = append(outs, img)
		}

		var composed *imaging.NormalizedImage
		switch mode := strings.ToLower(formOr(ctx, "mode", "side")); mode {
		case "side":
			composed, err = compare.SideBySide(orig, outs[0], intForm(ctx, "spacing", compare.DefaultSpacing))
		case "slider":
			composed = compare.Slider(orig, outs[0], intForm(ctx, "split", 50))
		case "grid":
			composed, err = compare.Grid(append([]*imaging.NormalizedImage{orig}, outs...), intForm(ctx, "columns", compare.DefaultColumns), intForm(ctx, "spacing", compare.DefaultGridSpacing))
		default:
			return writeError(ctx, providers.Errorf(providers.KindInvalidInput, "unknown mode %q", mode), "invalid body")
		}
		if err != nil {
			return writeError(ctx, providers.InvalidInput(err), "invalid body")
		}

		png, err := composed.PNG()
		if err != nil {
			return ctx.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{
				Error:   err.Error(),
				Message: "failed to encode comparison",
			})
		}

		stats := compare.Measure(orig, outs[0])
		ctx.Set(headerPixelDiff, strconv.FormatFloat(stats.PixelDiff, 'f', 4, 64))
		ctx.Set(fiber.HeaderContentType, "image/png")
		ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%s", utils.DownloadName("comparison", -1, "image/png")))
		ctx.Response().SetBodyRaw(png)
		return nil
	}
}

func (a *Api) decodeUpload(fh *multipart.FileHeader) (*imaging.NormalizedImage, error) {
	raw, format, err := a.readUpload(fh)
	if err != nil {
		return nil, err
	}
	img, err := imaging.NewPreprocessor(a.maxUpload).WithMaxPixels(a.maxPixels).Normalize(raw, format)
	if err != nil {
		return nil, providers.InvalidInput(err)
	}
	return img, nil
}

func intForm(ctx *fiber.Ctx, key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(ctx.FormValue(key))); err == nil {
		return n
	}
	return fallback
}
