package imaging

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// SDXLDimensions are the sizes the SDXL image-to-image engines accept.
var SDXLDimensions = []image.Point{
	{1024, 1024},
	{1152, 896},
	{1216, 832},
	{1344, 768},
	{1536, 640},
	{640, 1536},
	{768, 1344},
	{832, 1216},
	{896, 1152},
}

// Resize scales to exactly w x h.
func (n *NormalizedImage) Resize(w, h int) *NormalizedImage {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if w == n.Width && h == n.Height {
		return n
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), n.Pixels, n.Pixels.Bounds(), draw.Src, nil)
	return &NormalizedImage{Pixels: dst, Width: w, Height: h, Source: n.Source}
}

// Thumbnail shrinks the image to fit maxW x maxH keeping the aspect ratio.
// It never upscales.
func (n *NormalizedImage) Thumbnail(maxW, maxH int) *NormalizedImage {
	if n.Width <= maxW && n.Height <= maxH {
		return n
	}
	ratio := math.Min(float64(maxW)/float64(n.Width), float64(maxH)/float64(n.Height))
	w := min(maxW, int(math.Round(float64(n.Width)*ratio)))
	h := min(maxH, int(math.Round(float64(n.Height)*ratio)))
	return n.Resize(w, h)
}

// FitMultipleOf bounds the longest side by maxSide and floors both
// dimensions to a multiple of m.
func (n *NormalizedImage) FitMultipleOf(m, maxSide int) *NormalizedImage {
	if m < 1 {
		m = 1
	}
	fitted := n.Thumbnail(maxSide, maxSide)

	w := fitted.Width / m * m
	h := fitted.Height / m * m
	if w < m {
		w = m
	}
	if h < m {
		h = m
	}
	return fitted.Resize(w, h)
}

// NearestSDXL resizes to the allowed SDXL size closest in aspect ratio.
func (n *NormalizedImage) NearestSDXL() *NormalizedImage {
	aspect := float64(n.Width) / float64(n.Height)

	best := SDXLDimensions[0]
	bestDiff := math.Inf(1)
	for _, d := range SDXLDimensions {
		diff := math.Abs(float64(d.X)/float64(d.Y) - aspect)
		if diff < bestDiff {
			bestDiff = diff
			best = d
		}
	}
	return n.Resize(best.X, best.Y)
}

// PixelDiff is the mean absolute RGB difference between a and b in [0,1].
// b is scaled to a's size first when they differ.
func PixelDiff(a, b *NormalizedImage) float64 {
	if a.Width == 0 || a.Height == 0 {
		return 0
	}
	if b.Width != a.Width || b.Height != a.Height {
		b = b.Resize(a.Width, a.Height)
	}

	var sum uint64
	pa, pb := a.Pixels.Pix, b.Pixels.Pix
	for y := 0; y < a.Height; y++ {
		ia := y * a.Pixels.Stride
		ib := y * b.Pixels.Stride
		for x := 0; x < a.Width; x++ {
			for c := 0; c < 3; c++ {
				d := int(pa[ia+c]) - int(pb[ib+c])
				if d < 0 {
					d = -d
				}
				sum += uint64(d)
			}
			ia += 4
			ib += 4
		}
	}
	return float64(sum) / float64(255*3*a.Width*a.Height)
}
