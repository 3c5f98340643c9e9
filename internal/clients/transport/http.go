package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"variations/internal/providers"
)

// MaxBodyBytes caps every response body read from a vendor.
const MaxBodyBytes = 64 << 20

// Field is one multipart form value; order is preserved on the wire.
type Field struct {
	Name  string
	Value string
}

type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

type Form struct {
	Fields []Field
	Files  []File
}

func Get[r any](h *http.Client, ctx context.Context, url string, headers map[string]string) (r, error) {
	var response r

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response, providers.Errorf(providers.KindInvalidInput, "build request: %v", err)
	}

	body, _, err := do(h, req, headers)
	if err != nil {
		return response, err
	}

	return decode[r](url, body)
}

func PostJSON[b, r any](h *http.Client, ctx context.Context, url string, body b, headers map[string]string) (r, error) {
	var response r

	raw, _, err := PostJSONRaw(h, ctx, url, body, headers)
	if err != nil {
		return response, err
	}

	return decode[r](url, raw)
}

// PostJSONRaw posts a JSON body and returns the raw response, for vendors
// that answer with image bytes.
func PostJSONRaw[b any](h *http.Client, ctx context.Context, url string, body b, headers map[string]string) ([]byte, http.Header, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, providers.Errorf(providers.KindInvalidInput, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, providers.Errorf(providers.KindInvalidInput, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return do(h, req, headers)
}

func PostMultipart[r any](h *http.Client, ctx context.Context, url string, form Form, headers map[string]string) (r, error) {
	var response r

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	for _, f := range form.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return response, providers.Errorf(providers.KindInvalidInput, "encode form: %v", err)
		}
	}
	for _, f := range form.Files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
		hdr.Set("Content-Type", f.ContentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return response, providers.Errorf(providers.KindInvalidInput, "encode form: %v", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return response, providers.Errorf(providers.KindInvalidInput, "encode form: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		return response, providers.Errorf(providers.KindInvalidInput, "encode form: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return response, providers.Errorf(providers.KindInvalidInput, "build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, _, err := do(h, req, headers)
	if err != nil {
		return response, err
	}

	return decode[r](url, body)
}

// Download fetches a generated image and checks that it is one.
func Download(h *http.Client, ctx context.Context, url string, headers map[string]string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", providers.Malformed("image url "+url, err)
	}

	body, _, err := do(h, req, headers)
	if err != nil {
		return nil, "", err
	}

	mimeType := http.DetectContentType(body)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", providers.Malformed("downloaded content is "+mimeType, nil)
	}
	return body, mimeType, nil
}

func do(h *http.Client, req *http.Request, headers map[string]string) ([]byte, http.Header, error) {
	for key, val := range headers {
		req.Header.Set(key, val)
	}

	resp, err := h.Do(req)
	if err != nil {
		return nil, nil, providers.FromTransport(err)
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, resp.Header, providers.FromTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, providers.FromStatus(resp.StatusCode, resp.Header, responseBytes).
			WithCause(fmt.Errorf("http %s %s: %s", req.Method, req.URL.Redacted(), resp.Status))
	}

	return responseBytes, resp.Header, nil
}

func decode[r any](url string, body []byte) (r, error) {
	var response r
	if err := json.Unmarshal(body, &response); err != nil {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 8<<10 {
			snippet = snippet[:8<<10]
		}
		return response, providers.Malformed(fmt.Sprintf("unmarshal %s: %s", url, snippet), err)
	}
	return response, nil
}
