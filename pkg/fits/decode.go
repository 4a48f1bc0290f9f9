package fits

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/astrogo/fitsio"
)

var ErrUnsupported = errors.New("fits: unsupported image")

// Decode turns a BLOB payload into a Frame. format is the INDI BLOB format
// attribute (".fits", ".jpeg", ...); stream-mode formats go through image.Decode.
func Decode(data []byte, format string) (*Frame, error) {
	if IsFITS(format) {
		return DecodeFITS(data)
	}
	return DecodeImage(data)
}

// IsFITS reports whether a BLOB format or file extension names FITS data.
// An empty format is taken as FITS, the INDI CCD default.
func IsFITS(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", ".fits", ".fit", ".fts":
		return true
	}
	return false
}

// DecodeFITS reads the primary HDU. Only the first plane of a data cube is used.
func DecodeFITS(data []byte) (*Frame, error) {
	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open fits: %w", err)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%w: primary HDU is not an image", ErrUnsupported)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, fmt.Errorf("%w: NAXIS=%d", ErrUnsupported, len(axes))
	}
	width, height := axes[0], axes[1]
	bitpix := hdr.Bitpix()
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	raw := img.Raw()
	n := width * height
	if size == 0 || len(raw) < n*size {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d BITPIX %d", ErrUnsupported, len(raw), width, height, bitpix)
	}

	bzero := cardFloat(hdr, "BZERO", 0)
	bscale := cardFloat(hdr, "BSCALE", 1)
	frame := &Frame{
		Width:  width,
		Height: height,
		Bitpix: bitpix,
		Pix:    make([]float64, n),
	}
	for i := range frame.Pix {
		b := raw[i*size : (i+1)*size]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			v = float64(int64(binary.BigEndian.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		default:
			return nil, fmt.Errorf("%w: BITPIX %d", ErrUnsupported, bitpix)
		}
		frame.Pix[i] = v*bscale + bzero
	}

	switch {
	case bitpix == 8:
		frame.FullScale = 255*bscale + bzero
	case bitpix > 0:
		frame.FullScale = (math.Exp2(float64(bitpix-1))-1)*bscale + bzero
	default:
		// floating point data has no natural range, use what was recorded
		frame.FullScale = math.Max(1, frame.Stats().Max)
	}

	return frame, nil
}

// DecodeImage handles JPEG/PNG payloads, converted to 8-bit gray.
func DecodeImage(data []byte) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	frame := &Frame{
		Width:     b.Dx(),
		Height:    b.Dy(),
		Bitpix:    8,
		Pix:       make([]float64, 0, b.Dx()*b.Dy()),
		FullScale: 255,
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			frame.Pix = append(frame.Pix, float64(g.Y))
		}
	}

	return frame, nil
}

func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	card := hdr.Get(name)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return def
}
