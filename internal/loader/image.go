package loader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DecodedImage is the result of an image-load task.
type DecodedImage struct {
	Image  image.Image
	Format string
	Width  int
	Height int
}

// DecodeImage decodes PNG, JPEG, BMP or TIFF input.
func DecodeImage(data []byte) (*DecodedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	b := img.Bounds()
	return &DecodedImage{
		Image:  img,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
