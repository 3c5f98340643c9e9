package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// DefaultMaxBytes is the upload ceiling applied before decoding.
const DefaultMaxBytes int64 = 5 << 20

// DefaultMaxPixels caps width*height read from the image header, since a
// small compressed file can decode to gigabytes.
const DefaultMaxPixels int64 = 40_000_000

var (
	ErrInvalidImage      = errors.New("invalid image")
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrInvalidImage)
	ErrTooLarge          = fmt.Errorf("%w: file too large", ErrInvalidImage)
	ErrEmpty             = fmt.Errorf("%w: empty payload", ErrInvalidImage)
	ErrCorrupt           = fmt.Errorf("%w: corrupt payload", ErrInvalidImage)
)

// NormalizedImage is an opaque RGB image ready to be encoded for a provider.
type NormalizedImage struct {
	Pixels *image.RGBA
	Width  int
	Height int
	Source Format
}

type Preprocessor struct {
	MaxBytes  int64
	MaxPixels int64
}

func NewPreprocessor(maxBytes int64) Preprocessor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Preprocessor{MaxBytes: maxBytes, MaxPixels: DefaultMaxPixels}
}

// WithMaxPixels returns p with a pixel cap of n, or the default when n <= 0.
func (p Preprocessor) WithMaxPixels(n int64) Preprocessor {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	p.MaxPixels = n
	return p
}

// Normalize validates and decodes raw using the default size limit.
func Normalize(raw []byte, declared string) (*NormalizedImage, error) {
	return NewPreprocessor(DefaultMaxBytes).Normalize(raw, declared)
}

// Normalize checks format and size before decoding, then flattens the
// result onto white so every downstream consumer sees three opaque channels.
func (p Preprocessor) Normalize(raw []byte, declared string) (*NormalizedImage, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: %d bytes, maximum %d", ErrTooLarge, len(raw), limit)
	}

	sniffed, err := sniff(raw)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(declared) != "" {
		want, err := ParseFormat(declared)
		if err != nil {
			return nil, err
		}
		if want != sniffed {
			return nil, fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedFormat, want, sniffed)
		}
	}

	if err := checkPixels(raw, p.MaxPixels); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	n := FromImage(img)
	n.Source = sniffed
	return n, nil
}

func checkPixels(raw []byte, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > limit {
		return fmt.Errorf("%w: %dx%d pixels, maximum %d", ErrTooLarge, cfg.Width, cfg.Height, limit)
	}
	return nil
}

// ParseFormat accepts a file extension, a filename or a MIME type.
func ParseFormat(declared string) (Format, error) {
	d := strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(d, "image/") {
		d = strings.TrimPrefix(d, "image/")
	} else if ext := filepath.Ext(d); ext != "" {
		d = ext
	}
	d = strings.TrimPrefix(d, ".")

	switch d {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg", "pjpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("%w: %q (allowed: png, jpg, jpeg)", ErrUnsupportedFormat, declared)
	}
}

func sniff(raw []byte) (Format, error) {
	switch ct := http.DetectContentType(raw); ct {
	case "image/png":
		return FormatPNG, nil
	case "image/jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, ct)
	}
}

// Decode reads any PNG or JPEG without the upload checks. Used for provider
// output and comparison inputs.
func Decode(raw []byte) (*NormalizedImage, error) {
	if err := checkPixels(raw, DefaultMaxPixels); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	n := FromImage(img)
	n.Source = Format(format)
	return n, nil
}

// FromImage flattens any colour model onto an opaque white canvas.
func FromImage(img image.Image) *NormalizedImage {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)

	return &NormalizedImage{
		Pixels: dst,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}
