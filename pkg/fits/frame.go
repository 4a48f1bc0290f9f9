package fits

import (
	"image"
	"image/color"
	"math"
)

// Frame is one decoded exposure. Pix holds physical values (BZERO and
// BSCALE applied), row by row, Width*Height samples.
type Frame struct {
	Width  int
	Height int
	Bitpix int
	Pix    []float64

	// FullScale is the largest value the sensor encoding can hold.
	FullScale float64
}

type Stats struct {
	Mean float64
	Min  float64
	Max  float64
}

func (f *Frame) Stats() Stats {
	if len(f.Pix) == 0 {
		return Stats{}
	}
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, p := range f.Pix {
		sum += p
		if p < s.Min {
			s.Min = p
		}
		if p > s.Max {
			s.Max = p
		}
	}
	s.Mean = sum / float64(len(f.Pix))
	return s
}

// Mean8 is the mean brightness on the 0..255 ADU scale whatever the
// sensor bit depth.
func (f *Frame) Mean8() float64 {
	mean := f.Stats().Mean
	if f.FullScale <= 0 {
		return mean
	}
	return mean * 255 / f.FullScale
}

// Image renders the frame as grayscale. With normalize the range
// min..max is stretched to 0..255; otherwise 8-bit frames keep their
// values and deeper frames become Gray16 scaled by FullScale.
func (f *Frame) Image(normalize bool) image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	if normalize {
		s := f.Stats()
		img := image.NewGray(rect)
		span := s.Max - s.Min
		for i, p := range f.Pix {
			if span > 0 {
				img.Pix[i] = uint8(math.Round((p - s.Min) * 255 / span))
			}
		}
		return img
	}

	if f.Bitpix == 8 {
		img := image.NewGray(rect)
		for i, p := range f.Pix {
			img.Pix[i] = uint8(clamp(p, 0, 255))
		}
		return img
	}
	img := image.NewGray16(rect)
	scale := 1.0
	if f.FullScale > 0 {
		scale = 65535 / f.FullScale
	}
	for i, p := range f.Pix {
		img.SetGray16(i%f.Width, i/f.Width, color.Gray16{Y: uint16(clamp(math.Round(p*scale), 0, 65535))})
	}
	return img
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
