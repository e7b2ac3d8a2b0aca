package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register decoder for PNG snapshots

	"github.com/example/idverify/internal/inference"
)

// Cropper cuts the document region out of a full camera frame.
type Cropper interface {
	Crop(img []byte, box inference.BoundingBox) ([]byte, error)
}

// ErrEmptyCrop is returned when the box does not overlap the image.
var ErrEmptyCrop = errors.New("crop region is empty")

// JPEGCropper crops with the standard image codecs and re-encodes as JPEG.
type JPEGCropper struct {
	// Padding is added above and below the box, in pixels.
	Padding int
	Quality int
}

// NewJPEGCropper returns a cropper with the overlay's 20px vertical padding.
func NewJPEGCropper() *JPEGCropper {
	return &JPEGCropper{Padding: 20, Quality: 92}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop implements Cropper.
func (c *JPEGCropper) Crop(data []byte, box inference.BoundingBox) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	rect := image.Rect(
		int(box.X-box.Width/2),
		int(box.Y-box.Height/2)-c.Padding,
		int(box.X+box.Width/2),
		int(box.Y+box.Height/2)+c.Padding,
	).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	si, ok := src.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T cannot be cropped", src)
	}

	quality := c.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, si.SubImage(rect), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
