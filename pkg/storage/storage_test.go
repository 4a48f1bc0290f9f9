package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"qhy5-indi/pkg/indi/inditest"
)

func gray(value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func TestSaveReplacesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sub", "blob.png")
	s, err := New(out, DefaultQuality, "")
	checkErr(t, err)

	for _, v := range []uint8{10, 200} {
		archived, err := s.Save(gray(v), nil, ".fits")
		checkErr(t, err)
		if archived != "" {
			t.Fatalf("archived %q without archive", archived)
		}
	}
	f, err := os.Open(out)
	checkErr(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	checkErr(t, err)
	if got := color.GrayModel.Convert(img.At(1, 1)).(color.Gray).Y; got != 200 {
		t.Fatalf("pixel = %d, want the second frame", got)
	}

	entries, err := os.ReadDir(filepath.Dir(out))
	checkErr(t, err)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSaveFITSPassesRawThrough(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frame.fits")
	s, err := New(out, DefaultQuality, "")
	checkErr(t, err)

	raw := inditest.Uniform(4, 3, 7)
	_, err = s.Save(gray(7), raw, ".fits")
	checkErr(t, err)
	data, err := os.ReadFile(out)
	checkErr(t, err)
	if !bytes.Equal(data, raw) {
		t.Fatal("FITS file differs from payload")
	}

	if _, err = s.Save(gray(7), []byte{0xff, 0xd8}, ".jpeg"); err == nil {
		t.Fatal("expected error saving a JPEG frame as FITS")
	}
}

func TestUnsupportedOutput(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "a.gif"), DefaultQuality, ""); err == nil {
		t.Fatal("expected error")
	}
	for ext, want := range map[string]bool{".jpg": true, ".JPEG": true, ".tif": true, ".bmp": true, ".fit": true, ".gif": false, "": false} {
		if IsSupported(ext) != want {
			t.Errorf("IsSupported(%q) != %v", ext, want)
		}
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "blob.jpg"), DefaultQuality, filepath.Join(dir, "archive"))
	checkErr(t, err)

	var names []string
	for i := 0; i < 3; i++ {
		name, err := s.Save(gray(uint8(i*50)), nil, ".fits")
		checkErr(t, err)
		names = append(names, name)
	}
	if names[0] != "blob-0.jpg" || names[2] != "blob-2.jpg" {
		t.Fatalf("names = %v", names)
	}

	a := s.Archive()
	latest, err := a.LatestImageName()
	checkErr(t, err)
	if latest != "blob-2.jpg" {
		t.Fatalf("latest = %s", latest)
	}
	files, err := a.ListImages()
	checkErr(t, err)
	if len(files) != 3 {
		t.Fatalf("files = %+v", files)
	}
	data, err := a.GetImage("blob-1.jpg")
	checkErr(t, err)
	if len(data) == 0 {
		t.Fatal("empty image")
	}
	if _, err = a.GetImage("../blob.jpg"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}

	// numbering continues across restarts
	a2, err := NewArchive(a.Dir(), "blob", ".jpg")
	checkErr(t, err)
	name, err := a2.Save([]byte("x"))
	checkErr(t, err)
	if name != "blob-3.jpg" {
		t.Fatalf("name after reopen = %s", name)
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
