package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"variations/internal/imaging"
	"variations/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeonardo struct {
	t        *testing.T
	srv      *httptest.Server
	polls    atomic.Int32
	readyAt  int32
	final    string
	gen      atomic.Pointer[GenerationRequest]
	imageOut []byte
}

func newFake(t *testing.T, readyAt int32, final string) *fakeLeonardo {
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 3, 3))))

	f := &fakeLeonardo{t: t, readyAt: readyAt, final: final, imageOut: buf.Bytes()}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLeonardo) handle(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer leo", r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/init-image":
		var req InitImageRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(f.t, strings.HasPrefix(req.ImageDataURL, "data:image/png;base64,"))
		_, _ = w.Write([]byte(`{"uploadInitImage":{"id":"init-1"}}`))

	case r.Method == http.MethodPost && r.URL.Path == "/generations":
		var req GenerationRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.gen.Store(&req)
		_, _ = w.Write([]byte(`{"sdGenerationJob":{"generationId":"gen-9"}}`))

	case r.Method == http.MethodGet && r.URL.Path == "/generations/gen-9":
		n := f.polls.Add(1)
		status := StatusPending
		if n >= f.readyAt {
			status = f.final
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"generations_by_pk": map[string]any{
				"id":               "gen-9",
				"status":           status,
				"seed":             4242,
				"createdAt":        "2025-04-14T02:31:00.353",
				"generated_images": []map[string]any{{"id": "img", "url": f.srv.URL + "/out.png"}},
			},
		})

	case r.URL.Path == "/out.png":
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(f.imageOut)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeLeonardo) cfg() providers.Config {
	return providers.Config{
		providers.KeyAPIKey:  "leo",
		providers.KeyBaseURL: f.srv.URL,
		"poll_interval":      "5ms",
		"poll_timeout":       "2s",
	}
}

func testImage() *imaging.NormalizedImage {
	return imaging.FromImage(image.NewRGBA(image.Rect(0, 0, 1500, 1000)))
}

func TestTransform_PollsUntilComplete(t *testing.T) {
	f := newFake(t, 3, StatusComplete)

	out, err := NewClient(0).Transform(context.Background(), testImage(), providers.Params{Prompt: "anime", Strength: 0.35, Seed: 11}, f.cfg())
	require.NoError(t, err)

	assert.Equal(t, f.imageOut, out.Image)
	assert.Equal(t, "image/png", out.MimeType)
	assert.Equal(t, int64(4242), out.Seed)
	assert.Equal(t, "gen-9", out.Metadata["generation_id"])
	assert.Equal(t, "0.35", out.Metadata["strength"])
	assert.Equal(t, "2025-04-14T02:31:00Z", out.Metadata["created_at"])
	assert.EqualValues(t, 3, f.polls.Load())

	gen := f.gen.Load()
	require.NotNil(t, gen)
	assert.Equal(t, "init-1", gen.InitImageID)
	assert.Equal(t, 0.35, gen.InitStrength)
	assert.Equal(t, DefaultModel, gen.ModelID)
	assert.Equal(t, DefaultNegativePrompt, gen.NegativePrompt)
	assert.Equal(t, 1024, gen.Width)
	assert.Equal(t, 680, gen.Height)
}

func TestTransform_GenerationFailed(t *testing.T) {
	f := newFake(t, 1, StatusFailed)

	_, err := NewClient(0).Transform(context.Background(), testImage(), providers.Params{Strength: 0.5}, f.cfg())
	pe := providers.AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, providers.KindProviderError, pe.Kind)
	assert.Equal(t, providers.Leonardo, pe.Provider)
}

func TestTransform_PollTimeout(t *testing.T) {
	f := newFake(t, 1<<30, StatusComplete)
	cfg := f.cfg()
	cfg["poll_timeout"] = "30ms"

	_, err := NewClient(0).Transform(context.Background(), testImage(), providers.Params{Strength: 0.5}, cfg)
	pe := providers.AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, providers.KindTimeout, pe.Kind)
	assert.True(t, pe.Retryable)
}

func TestTransform_UploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	cfg := providers.Config{providers.KeyAPIKey: "leo", providers.KeyBaseURL: srv.URL}
	_, err := NewClient(0).Transform(context.Background(), testImage(), providers.Params{Strength: 0.5}, cfg)
	pe := providers.AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, providers.KindAuthFailed, pe.Kind)
	assert.Equal(t, "invalid api key", pe.Message)
}
