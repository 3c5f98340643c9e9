package services

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"variations/config"
	"variations/internal/batch"
	"variations/internal/clients/local"
	"variations/internal/compare"
	"variations/internal/metrics"
	"variations/internal/orchestrator"
	"variations/internal/providers"
	"variations/types"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []orchestrator.Request
	fn   func(req orchestrator.Request) ([]orchestrator.Outcome, error)
}

func (f *fakeRunner) Run(_ context.Context, req orchestrator.Request) ([]orchestrator.Outcome, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	out := make([]orchestrator.Outcome, req.Variations)
	for i := range out {
		out[i] = orchestrator.Outcome{
			VariationIndex: i,
			Seed:           int64(100 + i),
			Result: &orchestrator.Result{
				VariationIndex: i,
				Image:          []byte("png-bytes"),
				MimeType:       "image/png",
				Seed:           int64(100 + i),
				Elapsed:        1500 * time.Millisecond,
				Metadata:       map[string]string{"model": "fake"},
			},
		}
	}
	return out, nil
}

func (f *fakeRunner) last() orchestrator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeManager struct {
	unloaded bool
}

func (m *fakeManager) Status(context.Context) (*local.Status, error) {
	return &local.Status{Loaded: !m.unloaded, Model: "sdxl-refiner", Device: "cuda"}, nil
}

func (m *fakeManager) Unload(context.Context) error {
	m.unloaded = true
	return nil
}

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestApi(t *testing.T, d Deps) *Api {
	t.Helper()
	if d.Runner == nil {
		d.Runner = &fakeRunner{}
	}
	return NewApi(config.ApiConfig{Port: "0"}, d)
}

func do(t *testing.T, a *Api, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := a.server.Test(req, 5000)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	resp, body := do(t, newTestApi(t, Deps{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var out types.HealthResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 200, out.Status)
}

func TestProviders(t *testing.T) {
	a := newTestApi(t, Deps{
		Local: &fakeManager{},
		Credentials: map[providers.Provider]providers.Config{
			providers.Stability: {providers.KeyAPIKey: "sk-123"},
			providers.DeepAI:    {providers.KeyAPIKey: ""},
		},
	})

	resp, body := do(t, a, httptest.NewRequest(http.MethodGet, "/providers", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.ProvidersResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Providers, len(providers.All()))

	byName := map[string]types.ProviderInfo{}
	for _, p := range out.Providers {
		byName[p.Name] = p
	}
	assert.True(t, byName["stability"].Configured)
	assert.False(t, byName["deepai"].Configured)
	assert.False(t, byName["replicate"].Configured)
	require.NotNil(t, byName["local"].Local)
	assert.True(t, byName["local"].Local.Loaded)
	assert.Equal(t, "cuda", byName["local"].Local.Device)

	assert.Equal(t, 0.6, out.Defaults.Strength)
	assert.Equal(t, 0.3, out.Defaults.MinStrength)
	assert.Equal(t, 0.9, out.Defaults.MaxStrength)
}

func TestStyles(t *testing.T) {
	resp, body := do(t, newTestApi(t, Deps{}), httptest.NewRequest(http.MethodGet, "/styles", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var groups []struct {
		Category string `json:"category"`
		Presets  []struct {
			Name string `json:"name"`
		} `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(body, &groups))
	require.Len(t, groups, 3)
	assert.Equal(t, "Artistic", groups[0].Category)
}

func TestTransform(t *testing.T) {
	r := &fakeRunner{}
	a := newTestApi(t, Deps{
		Runner:      r,
		Credentials: map[providers.Provider]providers.Config{providers.Stability: {providers.KeyAPIKey: "configured", providers.KeyModel: "sdxl"}},
	})

	req := multipartRequest(t, http.MethodPost, "/transform", map[string]string{
		"provider":   "Stability AI",
		"style":      "watercolor",
		"prompt":     "a red barn, watercolor",
		"variations": "2",
		"seeds":      "11, 22",
	}, upload{"image", "barn.png", pngBytes(t, 16, 16, color.RGBA{R: 200, A: 255})})
	req.Header.Set("X-Provider-Key", "override")

	resp, body := do(t, a, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	got := r.last()
	assert.Equal(t, providers.Stability, got.Provider)
	assert.Equal(t, "a red barn, watercolor", got.Prompt)
	assert.Contains(t, got.NegativePrompt, "muddy colors")
	assert.Equal(t, 0.35, got.Strength, "strength from the preset")
	assert.Equal(t, []int64{11, 22}, got.Seeds)
	assert.Equal(t, "barn.png", got.Format)
	assert.Equal(t, "override", got.Config[providers.KeyAPIKey])
	assert.Equal(t, "sdxl", got.Config[providers.KeyModel])

	var out types.TransformResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 2, out.Succeeded)
	require.Len(t, out.Variations, 2)
	assert.Equal(t, []byte("png-bytes"), out.Variations[1].Image)
	assert.Equal(t, "variation_2.png", out.Variations[1].Filename)
	assert.Equal(t, int64(1500), out.Variations[0].ElapsedMs)
}

func TestTransform_DoesNotLeakOverrideIntoCredentials(t *testing.T) {
	creds := map[providers.Provider]providers.Config{providers.DeepAI: {providers.KeyAPIKey: "server"}}
	a := newTestApi(t, Deps{Credentials: creds})

	req := multipartRequest(t, http.MethodPost, "/transform", map[string]string{"provider": "deepai"},
		upload{"image", "a.png", pngBytes(t, 4, 4, color.RGBA{A: 255})})
	req.Header.Set("X-Provider-Key", "client")
	resp, _ := do(t, a, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "server", creds[providers.DeepAI][providers.KeyAPIKey])
}

func TestTransform_AllVariationsFailed(t *testing.T) {
	r := &fakeRunner{fn: func(req orchestrator.Request) ([]orchestrator.Outcome, error) {
		return []orchestrator.Outcome{
			{VariationIndex: 0, Seed: 5, Err: providers.NewError(providers.KindRateLimited, "slow down").WithRetryAfter(2 * time.Second)},
			{VariationIndex: 1, Seed: 6, Err: providers.NewError(providers.KindAuthFailed, "bad key")},
		}, nil
	}}
	a := newTestApi(t, Deps{Runner: r})

	req := multipartRequest(t, http.MethodPost, "/transform", map[string]string{"provider": "leonardo", "variations": "2"},
		upload{"image", "a.png", pngBytes(t, 4, 4, color.RGBA{A: 255})})
	resp, body := do(t, a, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var out types.TransformResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 2, out.Failed)
	require.NotNil(t, out.Variations[0].Error)
	assert.Equal(t, "RateLimited", out.Variations[0].Error.Kind)
	assert.True(t, out.Variations[0].Error.Retryable)
	assert.Equal(t, int64(2000), out.Variations[0].Error.RetryAfterMs)
}

func TestTransform_BadInput(t *testing.T) {
	img := upload{"image", "a.png", pngBytes(t, 4, 4, color.RGBA{A: 255})}
	cases := map[string]*http.Request{
		"strength not a number": multipartRequest(t, http.MethodPost, "/transform", map[string]string{"strength": "lots"}, img),
		"bad seed":              multipartRequest(t, http.MethodPost, "/transform", map[string]string{"seeds": "1,x"}, img),
		"unknown provider":      multipartRequest(t, http.MethodPost, "/transform", map[string]string{"provider": "midjourney"}, img),
		"unknown style":         multipartRequest(t, http.MethodPost, "/transform", map[string]string{"style": "cubism"}, img),
		"missing image":         multipartRequest(t, http.MethodPost, "/transform", map[string]string{"prompt": "x"}),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			r := &fakeRunner{}
			resp, body := do(t, newTestApi(t, Deps{Runner: r}), req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Zero(t, r.calls())

			var out types.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, "InvalidInput", out.Kind)
		})
	}
}

func TestTransform_RejectedRequest(t *testing.T) {
	r := &fakeRunner{fn: func(orchestrator.Request) ([]orchestrator.Outcome, error) {
		return nil, providers.NewError(providers.KindInvalidInput, "variation count must be within [1, 4], got 9")
	}}
	req := multipartRequest(t, http.MethodPost, "/transform", map[string]string{"variations": "9"},
		upload{"image", "a.png", pngBytes(t, 4, 4, color.RGBA{A: 255})})

	resp, body := do(t, newTestApi(t, Deps{Runner: r}), req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "variation count")
}

func TestBatchLifecycle(t *testing.T) {
	r := &fakeRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := batch.NewQueue(ctx, r)
	q.Run()
	defer q.Shutdown(context.Background())

	a := newTestApi(t, Deps{Runner: r, Queue: q})

	req := multipartRequest(t, http.MethodPost, "/batches", map[string]string{"provider": "replicate", "clientId": "c1"},
		upload{"image", "one.png", pngBytes(t, 4, 4, color.RGBA{R: 9, A: 255})},
		upload{"image", "two.png", pngBytes(t, 4, 4, color.RGBA{G: 9, A: 255})},
	)
	resp, body := do(t, a, req)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var sub types.BatchResponse
	require.NoError(t, json.Unmarshal(body, &sub))
	require.NotEmpty(t, sub.JobID)

	var job batch.Job
	require.Eventually(t, func() bool {
		resp, body := do(t, a, httptest.NewRequest(http.MethodGet, "/batches/"+sub.JobID, nil))
		if resp.StatusCode != http.StatusOK {
			return false
		}
		job = batch.Job{}
		return json.Unmarshal(body, &job) == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, batch.StatusCompleted, job.Status)
	assert.Len(t, job.Outcomes, 2)
	assert.Equal(t, 2, r.calls())

	resp, _ = do(t, a, httptest.NewRequest(http.MethodDelete, "/batches/"+sub.JobID, nil))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, a, httptest.NewRequest(http.MethodDelete, "/batches/"+sub.JobID, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, a, httptest.NewRequest(http.MethodGet, "/batches/"+sub.JobID, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatch_ReleaseWhilePending(t *testing.T) {
	// Never started, so the job stays pending.
	q := batch.NewQueue(context.Background(), &fakeRunner{})
	a := newTestApi(t, Deps{Queue: q})

	req := multipartRequest(t, http.MethodPost, "/batches", nil, upload{"image", "a.png", pngBytes(t, 4, 4, color.RGBA{A: 255})})
	resp, body := do(t, a, req)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var sub types.BatchResponse
	require.NoError(t, json.Unmarshal(body, &sub))
	resp, _ = do(t, a, httptest.NewRequest(http.MethodDelete, "/batches/"+sub.JobID, nil))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBatch_NoImages(t *testing.T) {
	q := batch.NewQueue(context.Background(), &fakeRunner{})
	a := newTestApi(t, Deps{Queue: q})

	resp, _ := do(t, a, multipartRequest(t, http.MethodPost, "/batches", map[string]string{"prompt": "x"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApi_RecoversFromPanic(t *testing.T) {
	a := newTestApi(t, Deps{})
	a.server.Get("/boom", func(*fiber.Ctx) error { panic("boom") })

	resp, _ := do(t, a, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, _ = do(t, a, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCompare(t *testing.T) {
	a := newTestApi(t, Deps{})
	orig := upload{"original", "o.png", pngBytes(t, 20, 10, color.RGBA{A: 255})}
	out := upload{"transformed", "t.png", pngBytes(t, 20, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})}

	t.Run("side", func(t *testing.T) {
		resp, body := do(t, a, multipartRequest(t, http.MethodPost, "/compare", map[string]string{"spacing": "4"}, orig, out))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, "1.0000", resp.Header.Get("X-Pixel-Diff"))

		img, err := png.Decode(bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, 44, img.Bounds().Dx())
	})

	t.Run("slider", func(t *testing.T) {
		resp, body := do(t, a, multipartRequest(t, http.MethodPost, "/compare", map[string]string{"mode": "slider", "split": "50"}, orig, out))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		img, err := png.Decode(bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
	})

	t.Run("grid", func(t *testing.T) {
		resp, body := do(t, a, multipartRequest(t, http.MethodPost, "/compare", map[string]string{"mode": "grid", "columns": "3", "spacing": "0"}, orig, out, out))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		img, err := png.Decode(bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, 60, img.Bounds().Dx())
	})

	t.Run("oversized spacing clamped", func(t *testing.T) {
		for _, mode := range []string{"side", "grid"} {
			resp, body := do(t, a, multipartRequest(t, http.MethodPost, "/compare", map[string]string{"mode": mode, "spacing": "9223372036854775800", "columns": "9223372036854775800"}, orig, out))
			require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
			img, err := png.Decode(bytes.NewReader(body))
			require.NoError(t, err)
			assert.Equal(t, 20+compare.MaxSpacing+20, img.Bounds().Dx(), mode)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		resp, _ := do(t, a, multipartRequest(t, http.MethodPost, "/compare", map[string]string{"mode": "flip"}, orig, out))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing transformed", func(t *testing.T) {
		resp, _ := do(t, a, multipartRequest(t, http.MethodPost, "/compare", nil, orig))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestUnloadLocal(t *testing.T) {
	resp, _ := do(t, newTestApi(t, Deps{}), httptest.NewRequest(http.MethodPost, "/local/unload", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m := &fakeManager{}
	resp, _ = do(t, newTestApi(t, Deps{Local: m}), httptest.NewRequest(http.MethodPost, "/local/unload", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, m.unloaded)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewCollector("variations")
	a := newTestApi(t, Deps{Metrics: m})

	do(t, a, httptest.NewRequest(http.MethodGet, "/health", nil))
	resp, body := do(t, a, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `variations_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestWsRequiresUpgrade(t *testing.T) {
	resp, _ := do(t, newTestApi(t, Deps{}), httptest.NewRequest(http.MethodGet, "/ws/c1", nil))
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
