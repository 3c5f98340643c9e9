package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, img, nil))
	return buf.Bytes()
}

func TestNormalize_PNG(t *testing.T) {
	raw := encodePNG(t, solid(40, 30, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))

	n, err := Normalize(raw, "photo.png")
	require.NoError(t, err)
	assert.Equal(t, 40, n.Width)
	assert.Equal(t, 30, n.Height)
	assert.Equal(t, FormatPNG, n.Source)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, n.Pixels.RGBAAt(5, 5))
}

func TestNormalize_TransparencyFlattenedOntoWhite(t *testing.T) {
	raw := encodePNG(t, solid(4, 4, color.NRGBA{A: 0}))

	n, err := Normalize(raw, "image/png")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, n.Pixels.RGBAAt(1, 1))
	assert.True(t, n.Pixels.Opaque())
}

func TestNormalize_JPEGDeclaredAsJpg(t *testing.T) {
	raw := encodeJPEG(t, solid(16, 16, color.NRGBA{R: 200, A: 255}))

	n, err := Normalize(raw, "jpg")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, n.Source)
}

func TestNormalize_Rejections(t *testing.T) {
	pngBytes := encodePNG(t, solid(2, 2, color.Black))
	bmp := append([]byte("BM"), make([]byte, 64)...)
	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), []byte("not really a png")...)

	cases := []struct {
		name     string
		raw      []byte
		declared string
		pre      Preprocessor
		want     error
	}{
		{"empty", nil, "png", NewPreprocessor(0), ErrEmpty},
		{"bmp content", bmp, "", NewPreprocessor(0), ErrUnsupportedFormat},
		{"bmp declared", pngBytes, "bmp", NewPreprocessor(0), ErrUnsupportedFormat},
		{"declared mismatch", pngBytes, "jpeg", NewPreprocessor(0), ErrUnsupportedFormat},
		{"too large", pngBytes, "png", Preprocessor{MaxBytes: 8}, ErrTooLarge},
		{"too many pixels", pngBytes, "png", NewPreprocessor(0).WithMaxPixels(3), ErrTooLarge},
		{"huge header", pngHeader(100_000, 100_000), "png", NewPreprocessor(0), ErrTooLarge},
		{"corrupt", corrupt, "png", NewPreprocessor(0), ErrCorrupt},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.pre.Normalize(tc.raw, tc.declared)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}
}

// pngHeader is a PNG that stops after a valid IHDR chunk claiming w x h.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6 // 8-bit RGBA

	chunk := append([]byte("IHDR"), ihdr...)
	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, uint32(len(ihdr)))
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

func TestNormalize_PixelCapIsConfigurable(t *testing.T) {
	raw := encodePNG(t, solid(20, 20, color.White))

	_, err := NewPreprocessor(0).WithMaxPixels(399).Normalize(raw, "png")
	assert.ErrorIs(t, err, ErrTooLarge)

	n, err := NewPreprocessor(0).WithMaxPixels(400).Normalize(raw, "png")
	require.NoError(t, err)
	assert.Equal(t, 20, n.Width)

	assert.Equal(t, DefaultMaxPixels, NewPreprocessor(0).WithMaxPixels(-1).MaxPixels)
}

func TestDecode_RejectsHugeHeader(t *testing.T) {
	_, err := Decode(pngHeader(100_000, 100_000))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"png":         FormatPNG,
		".PNG":        FormatPNG,
		"image/jpeg":  FormatJPEG,
		"holiday.JPG": FormatJPEG,
		"jpeg":        FormatJPEG,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("webp")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
