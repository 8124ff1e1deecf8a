package camera

import (
	"bytes"
	"image"
	"image/jpeg"
)

// EncodeFunc turns an annotated frame into bytes for the cache and sinks.
type EncodeFunc func(img image.Image, quality int) ([]byte, error)

// EncodeJPEG is the default EncodeFunc.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(img.Bounds().Dx() * img.Bounds().Dy() / 8)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
