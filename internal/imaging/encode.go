package imaging

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"image/png"
)

const DefaultJPEGQuality = 90

// PNG encodes the image; opaque RGBA is written as 8-bit truecolour.
func (n *NormalizedImage) PNG() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, n.Pixels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *NormalizedImage) JPEG(quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, n.Pixels, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *NormalizedImage) Base64PNG() (string, error) {
	b, err := n.PNG()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DataURL returns the PNG encoding as a data: URL.
func (n *NormalizedImage) DataURL() (string, error) {
	b64, err := n.Base64PNG()
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + b64, nil
}
