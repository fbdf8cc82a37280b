package embed

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/Adioame/PhotoMind-sub002/internal/constants"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// CropFace cuts a face region out of a photo and scales it to the square
// input size the embedding model expects. The bounding box uses coordinates
// relative to the image (0..1). The box is expanded by a margin so the crop
// keeps some context around the face, and clamped to the image bounds.
// Returns JPEG-encoded bytes.
func CropFace(imageData []byte, box store.BoundingBox) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())

	marginX := box.W * constants.FaceCropMargin
	marginY := box.H * constants.FaceCropMargin

	x0 := clamp((box.X-marginX)*width, 0, width)
	y0 := clamp((box.Y-marginY)*height, 0, height)
	x1 := clamp((box.X+box.W+marginX)*width, 0, width)
	y1 := clamp((box.Y+box.H+marginY)*height, 0, height)

	rect := image.Rect(
		bounds.Min.X+int(x0), bounds.Min.Y+int(y0),
		bounds.Min.X+int(x1), bounds.Min.Y+int(y1),
	)
	if rect.Dx() < 1 || rect.Dy() < 1 {
		return nil, fmt.Errorf("face box %+v is empty within %dx%d image", box, int(width), int(height))
	}

	size := constants.FaceCropSize
	crop := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(crop, crop.Bounds(), img, rect, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode face crop: %w", err)
	}
	return buf.Bytes(), nil
}

// ResizeImage shrinks an image to fit within maxSize while keeping aspect
// ratio, so detection uploads stay small. Images already small enough pass
// through untouched. Returns JPEG-encoded bytes.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
