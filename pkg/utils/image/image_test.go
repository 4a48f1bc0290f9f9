package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func gradient(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 255 / (width + height - 2))})
		}
	}
	return img
}

func TestEncoders(t *testing.T) {
	src := gradient(16, 12)
	decoders := map[string]func(*bytes.Reader) (image.Image, error){
		".JPG":  func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) },
		".jpeg": func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) },
		".png":  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		".tif":  func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
		".tiff": func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
		".bmp":  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
	}
	for ext, decode := range decoders {
		enc, err := Encoder(ext, DefaultQuality)
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err = enc(src, &buf); err != nil {
			t.Fatalf("%s: %s", ext, err)
		}
		img, err := decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("%s: decode: %s", ext, err)
		}
		if img.Bounds() != src.Bounds() {
			t.Fatalf("%s: bounds %v", ext, img.Bounds())
		}
	}
}

func TestLosslessEncoders(t *testing.T) {
	src := gradient(9, 7)
	for _, ext := range []string{".png", ".tiff"} {
		enc, err := Encoder(ext, DefaultQuality)
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err = enc(src, &buf); err != nil {
			t.Fatal(err)
		}
		var img image.Image
		if ext == ".png" {
			img, err = png.Decode(&buf)
		} else {
			img, err = tiff.Decode(bytes.NewReader(buf.Bytes()))
		}
		if err != nil {
			t.Fatal(err)
		}
		for y := 0; y < 7; y++ {
			for x := 0; x < 9; x++ {
				got := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				if got != src.GrayAt(x, y) {
					t.Fatalf("%s (%d,%d) = %v, want %v", ext, x, y, got, src.GrayAt(x, y))
				}
			}
		}
	}
}

func TestUnknownEncoder(t *testing.T) {
	if _, err := Encoder(".gif", DefaultQuality); err == nil {
		t.Fatal("expected error")
	}
}
