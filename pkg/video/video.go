package video

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/icza/mjpeg"
	"go.uber.org/zap"

	"qhy5-indi/pkg/utils"
	imgutil "qhy5-indi/pkg/utils/image"
)

// Builder appends frames to an MJPEG AVI. The file is created on the first
// frame, whose size fixes the video size.
type Builder struct {
	path    string
	fps     int
	quality int

	lock   sync.Mutex
	width  int
	height int
	cnt    int
	aw     mjpeg.AviWriter
	logger *zap.SugaredLogger
}

func NewBuilder(path string, fps, quality int) (*Builder, error) {
	if path == "" {
		return nil, fmt.Errorf("video path can not be empty")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %d", fps)
	}

	return &Builder{
		path:    path,
		fps:     fps,
		quality: quality,
		logger:  utils.GetLogger().Named("video"),
	}, nil
}

// Add encodes img to JPEG and appends it. Frames whose size differs from the
// first one are skipped; the returned bool reports whether img was added.
func (b *Builder) Add(img image.Image) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	size := img.Bounds().Size()
	if b.aw == nil {
		aw, err := mjpeg.New(b.path, int32(size.X), int32(size.Y), int32(b.fps))
		if err != nil {
			return false, err
		}
		b.aw = aw
		b.width, b.height = size.X, size.Y
	}
	if size.X != b.width || size.Y != b.height {
		b.logger.Warnf("skipping %dx%d frame, video is %dx%d", size.X, size.Y, b.width, b.height)
		return false, nil
	}

	var buf bytes.Buffer
	if err := imgutil.EncodeJPEG(img, &buf, b.quality); err != nil {
		return false, err
	}
	if err := b.aw.AddFrame(buf.Bytes()); err != nil {
		return false, err
	}
	b.cnt++

	return true, nil
}

// Close finalizes the AVI. A builder that never got a frame writes nothing.
func (b *Builder) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.aw == nil {
		return nil
	}
	b.logger.Infof("%s: %d frames", b.path, b.cnt)
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.cnt
}
