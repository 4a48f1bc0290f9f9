package video

import (
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestBuilder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timelapse.avi")
	b, err := NewBuilder(path, 10, 90)
	if err != nil {
		t.Fatal(err)
	}

	frames := []image.Image{
		image.NewGray(image.Rect(0, 0, 32, 24)),
		image.NewGray(image.Rect(0, 0, 32, 24)),
		image.NewGray(image.Rect(0, 0, 16, 12)),
	}
	var added []bool
	for _, f := range frames {
		ok, err := b.Add(f)
		if err != nil {
			t.Fatal(err)
		}
		added = append(added, ok)
	}
	if !added[0] || !added[1] || added[2] {
		t.Fatalf("added = %v", added)
	}
	if b.GetCnt() != 2 {
		t.Fatalf("count = %d", b.GetCnt())
	}
	if err = b.Close(); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 {
		t.Fatal("empty avi")
	}
}

func TestEmptyBuilderWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.avi")
	b, err := NewBuilder(path, 10, 90)
	if err != nil {
		t.Fatal(err)
	}
	if err = b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err = os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, got %v", err)
	}
}
