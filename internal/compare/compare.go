// Package compare composes before/after images for display and download.
package compare

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"variations/internal/imaging"

	"golang.org/x/image/draw"
)

const (
	DefaultSpacing     = 20
	DefaultGridSpacing = 10
	DefaultColumns     = 2
	DividerWidth       = 5
	MaxSpacing         = 200
	MaxColumns         = 8

	// MaxCanvasPixels bounds any composed image.
	MaxCanvasPixels = 100_000_000
)

var (
	ErrNoImages       = errors.New("no images to compose")
	ErrCanvasTooLarge = errors.New("comparison canvas too large")
)

func clampSpacing(spacing int) int {
	return min(max(spacing, 0), MaxSpacing)
}

func checkCanvas(w, h int) error {
	if w <= 0 || h <= 0 || int64(w)*int64(h) > MaxCanvasPixels {
		return fmt.Errorf("%w: %dx%d", ErrCanvasTooLarge, w, h)
	}
	return nil
}

func canvas(w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return dst
}

func paste(dst *image.RGBA, src *imaging.NormalizedImage, at image.Point) {
	r := image.Rectangle{Min: at, Max: at.Add(image.Pt(src.Width, src.Height))}
	draw.Draw(dst, r, src.Pixels, image.Point{}, draw.Src)
}

// SideBySide places a on the left and b on the right, spacing pixels apart,
// top aligned on a white canvas. spacing is clamped to [0, MaxSpacing].
func SideBySide(a, b *imaging.NormalizedImage, spacing int) (*imaging.NormalizedImage, error) {
	spacing = clampSpacing(spacing)
	w := a.Width + spacing + b.Width
	h := max(a.Height, b.Height)
	if err := checkCanvas(w, h); err != nil {
		return nil, err
	}

	dst := canvas(w, h)
	paste(dst, a, image.Point{})
	paste(dst, b, image.Pt(a.Width+spacing, 0))
	return &imaging.NormalizedImage{Pixels: dst, Width: w, Height: h}, nil
}

// Grid lays images out row by row in cells the size of the first image.
// Images of another size are scaled to fit their cell. columns is capped
// at MaxColumns and at the image count.
func Grid(images []*imaging.NormalizedImage, columns, spacing int) (*imaging.NormalizedImage, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if columns < 1 {
		columns = DefaultColumns
	}
	columns = min(columns, len(images), MaxColumns)
	spacing = clampSpacing(spacing)

	rows := (len(images) + columns - 1) / columns
	cw, ch := images[0].Width, images[0].Height
	w := columns*cw + (columns-1)*spacing
	h := rows*ch + (rows-1)*spacing
	if err := checkCanvas(w, h); err != nil {
		return nil, err
	}

	dst := canvas(w, h)
	for i, img := range images {
		row, col := i/columns, i%columns
		paste(dst, img.Resize(cw, ch), image.Pt(col*(cw+spacing), row*(ch+spacing)))
	}
	return &imaging.NormalizedImage{Pixels: dst, Width: w, Height: h}, nil
}

// Slider shows original left of the split and transformed right of it, with
// a white divider at the split. split is a percentage of the width and is
// clamped to [0, 100]. transformed is scaled to the original's size.
func Slider(original, transformed *imaging.NormalizedImage, split int) *imaging.NormalizedImage {
	split = min(max(split, 0), 100)
	w, h := original.Width, original.Height
	at := split * w / 100

	dst := canvas(w, h)
	draw.Draw(dst, image.Rect(0, 0, at, h), original.Pixels, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(at, 0, w, h), transformed.Resize(w, h).Pixels, image.Pt(at, 0), draw.Src)

	half := DividerWidth / 2
	line := image.Rect(at-half, 0, at+half+1, h).Intersect(dst.Bounds())
	draw.Draw(dst, line, image.NewUniform(color.White), image.Point{}, draw.Src)
	return &imaging.NormalizedImage{Pixels: dst, Width: w, Height: h}
}

type Info struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format,omitempty"`
}

type Stats struct {
	Original    Info    `json:"original"`
	Transformed Info    `json:"transformed"`
	PixelDiff   float64 `json:"pixelDiff"`
}

// Measure reports both sizes and the mean pixel difference, with the
// transformed image scaled to the original's size.
func Measure(original, transformed *imaging.NormalizedImage) Stats {
	return Stats{
		Original:    info(original),
		Transformed: info(transformed),
		PixelDiff:   imaging.PixelDiff(original, transformed),
	}
}

func info(n *imaging.NormalizedImage) Info {
	return Info{Width: n.Width, Height: n.Height, Format: string(n.Source)}
}
