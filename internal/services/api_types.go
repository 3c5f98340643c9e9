package services

import (
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"

	"variations/internal/orchestrator"
	"variations/internal/presets"
	"variations/internal/providers"
	"variations/types"

	"github.com/gofiber/fiber/v2"
)

const (
	batchMaxImages    = 16
	headerProviderKey = "X-Provider-Key"
	headerPixelDiff   = "X-Pixel-Diff"
)

// parseParams reads the form fields shared by /transform and /batches. A
// style preset is applied first so explicit fields override it.
func (a *Api) parseParams(c *fiber.Ctx) (orchestrator.Request, error) {
	invalid := func(format string, args ...any) error {
		return providers.Errorf(providers.KindInvalidInput, format, args...)
	}

	p, err := providers.Parse(formOr(c, "provider", a.defaults.Provider))
	if err != nil {
		return orchestrator.Request{}, err
	}

	req := orchestrator.Request{
		Provider:   p,
		Strength:   a.defaults.Strength,
		Variations: a.defaults.Variations,
	}

	if name := strings.TrimSpace(c.FormValue("style")); name != "" {
		preset, ok := presets.Lookup(name)
		if !ok {
			return req, invalid("unknown style %q", name)
		}
		presets.Apply(preset, &req)
	}

	if v := strings.TrimSpace(c.FormValue("prompt")); v != "" {
		req.Prompt = v
	}
	if v := strings.TrimSpace(c.FormValue("negativePrompt")); v != "" {
		req.NegativePrompt = v
	}
	if v := strings.TrimSpace(c.FormValue("strength")); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, invalid("strength %q is not a number", v)
		}
		req.Strength = s
	}
	if v := strings.TrimSpace(c.FormValue("variations")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, invalid("variations %q is not an integer", v)
		}
		req.Variations = n
	}
	if v := strings.TrimSpace(c.FormValue("seeds")); v != "" {
		for _, part := range strings.Split(v, ",") {
			seed, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return req, invalid("seed %q is not an integer", part)
			}
			req.Seeds = append(req.Seeds, seed)
		}
	}

	req.Config = a.credentials[p].Clone()
	if key := strings.TrimSpace(c.Get(headerProviderKey)); key != "" {
		req.Config[providers.KeyAPIKey] = key
	}
	return req, nil
}

// readUpload returns the file body and the format it declares, preferring
// the filename extension over the part's content type.
func (a *Api) readUpload(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > a.maxUpload {
		return nil, "", providers.Errorf(providers.KindInvalidInput, "%s: file too large (%d bytes, max %d)", fh.Filename, fh.Size, a.maxUpload)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", providers.InvalidInput(err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, a.maxUpload+1))
	if err != nil {
		return nil, "", providers.InvalidInput(err)
	}

	format := fh.Filename
	if filepath.Ext(format) == "" {
		format = fh.Header.Get(fiber.HeaderContentType)
	}
	return raw, format, nil
}

func formOr(c *fiber.Ctx, key, fallback string) string {
	if v := strings.TrimSpace(c.FormValue(key)); v != "" {
		return v
	}
	return fallback
}

func statusFor(kind providers.ErrorKind) int {
	switch kind {
	case providers.KindInvalidInput:
		return fiber.StatusBadRequest
	case providers.KindAuthFailed:
		return fiber.StatusUnauthorized
	case providers.KindRateLimited:
		return fiber.StatusTooManyRequests
	case providers.KindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func writeError(c *fiber.Ctx, err error, message string) error {
	pe := providers.AsError(err)
	return c.Status(statusFor(pe.Kind)).JSON(types.ErrorResponse{
		Error:   pe.Error(),
		Message: message,
		Kind:    string(pe.Kind),
	})
}

func errorRecord(pe *providers.Error) *types.ErrorRecord {
	if pe == nil {
		return nil
	}
	return &types.ErrorRecord{
		Kind:         string(pe.Kind),
		Message:      pe.Message,
		Retryable:    pe.Retryable,
		RetryAfterMs: pe.RetryAfter.Milliseconds(),
	}
}
