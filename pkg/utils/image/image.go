package image

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

const DefaultQuality = 95

type EncodeFunc func(img image.Image, dst io.Writer) error

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}

func EncodePNG(img image.Image, dst io.Writer) error {
	return png.Encode(dst, img)
}

func EncodeTIFF(img image.Image, dst io.Writer) error {
	return tiff.Encode(dst, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

func EncodeBMP(img image.Image, dst io.Writer) error {
	return bmp.Encode(dst, img)
}

// Encoder picks the encoder for a file extension, case-insensitive.
func Encoder(ext string, quality int) (EncodeFunc, error) {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return func(img image.Image, dst io.Writer) error {
			return EncodeJPEG(img, dst, quality)
		}, nil
	case ".png":
		return EncodePNG, nil
	case ".tif", ".tiff":
		return EncodeTIFF, nil
	case ".bmp":
		return EncodeBMP, nil
	}
	return nil, fmt.Errorf("no image encoder for %q", ext)
}
