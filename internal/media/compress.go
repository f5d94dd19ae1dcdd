// Package media shrinks evidence screenshots before they are stored.
package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	// MaxDimension bounds both sides of a compressed image.
	MaxDimension = 1200
	// JPEGQuality is the encoder quality used for compressed images.
	JPEGQuality = 70
)

// Compress decodes an image, fits it within MaxDimension×MaxDimension keeping the aspect
// ratio, and re-encodes it as JPEG. Images already inside the bounds are only re-encoded.
func Compress(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > MaxDimension || bounds.Dy() > MaxDimension {
		img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
