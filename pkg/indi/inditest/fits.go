package inditest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const fitsBlock = 2880

// FITS8 builds a primary HDU with BITPIX 8 holding pix row by row.
func FITS8(width, height int, pix []byte) []byte {
	var buf bytes.Buffer
	writeHeader(&buf, 8, width, height, nil)
	buf.Write(pix)
	pad(&buf, 0)
	return buf.Bytes()
}

// FITS16 builds a BITPIX 16 primary HDU in the unsigned convention
// (BZERO 32768) used by INDI CCD drivers.
func FITS16(width, height int, pix []uint16) []byte {
	var buf bytes.Buffer
	writeHeader(&buf, 16, width, height, []string{
		card("BZERO", "32768"),
		card("BSCALE", "1"),
	})
	for _, p := range pix {
		_ = binary.Write(&buf, binary.BigEndian, int16(int32(p)-32768))
	}
	pad(&buf, 0)
	return buf.Bytes()
}

// Uniform returns a BITPIX 8 frame filled with one value.
func Uniform(width, height int, value byte) []byte {
	return FITS8(width, height, bytes.Repeat([]byte{value}, width*height))
}

func writeHeader(buf *bytes.Buffer, bitpix, width, height int, extra []string) {
	cards := []string{
		card("SIMPLE", "T"),
		card("BITPIX", fmt.Sprint(bitpix)),
		card("NAXIS", "2"),
		card("NAXIS1", fmt.Sprint(width)),
		card("NAXIS2", fmt.Sprint(height)),
	}
	cards = append(cards, extra...)
	cards = append(cards, fmt.Sprintf("%-80s", "END"))
	for _, c := range cards {
		buf.WriteString(c)
	}
	pad(buf, ' ')
}

func card(key, value string) string {
	return fmt.Sprintf("%-8s= %20s%-50s", key, value, "")
}

func pad(buf *bytes.Buffer, b byte) {
	if n := buf.Len() % fitsBlock; n != 0 {
		buf.Write(bytes.Repeat([]byte{b}, fitsBlock-n))
	}
}
