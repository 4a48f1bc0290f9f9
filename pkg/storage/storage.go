package storage

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"qhy5-indi/pkg/fits"
	"qhy5-indi/pkg/utils"
	imgutil "qhy5-indi/pkg/utils/image"
	"qhy5-indi/pkg/utils/ps"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("storage")
}

// Storage writes every frame to one output file, replacing the previous
// one, and optionally keeps numbered copies in an Archive.
type Storage struct {
	output  string
	ext     string
	quality int
	archive *Archive
}

func New(output string, quality int, archiveDir string) (*Storage, error) {
	if output == "" {
		return nil, fmt.Errorf("output path can not be empty")
	}
	ext := strings.ToLower(filepath.Ext(output))
	if !IsSupported(ext) {
		return nil, fmt.Errorf("unsupported output format %q", ext)
	}
	if err := mkdirAll(filepath.Dir(output)); err != nil {
		return nil, err
	}
	s := &Storage{
		output:  output,
		ext:     ext,
		quality: quality,
	}
	if archiveDir != "" {
		name := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
		a, err := NewArchive(archiveDir, name, ext)
		if err != nil {
			return nil, err
		}
		s.archive = a
	}

	return s, nil
}

func (s *Storage) Output() string {
	return s.output
}

func (s *Storage) Archive() *Archive {
	return s.archive
}

// Save encodes img (or passes raw through for FITS output) and writes it.
// It returns the archived file name, empty without an archive.
func (s *Storage) Save(img image.Image, raw []byte, format string) (string, error) {
	data, err := Encode(img, raw, format, s.ext, s.quality)
	if err != nil {
		return "", err
	}
	if err = WriteFile(s.output, data); err != nil {
		return "", fmt.Errorf("write %s: %w", s.output, err)
	}
	logger.Infof("saved %s (%s)", s.output, humanize.Bytes(uint64(len(data))))
	CheckDisk(filepath.Dir(s.output))

	if s.archive == nil {
		return "", nil
	}
	name, err := s.archive.Save(data)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	return name, nil
}

func IsSupported(ext string) bool {
	ext = strings.ToLower(ext)
	if ext == ".fits" || ext == ".fit" {
		return true
	}
	_, err := imgutil.Encoder(ext, DefaultQuality)
	return err == nil
}

// Encode produces the file content for ext. FITS output is the camera's own
// FITS payload, so it needs a FITS BLOB.
func Encode(img image.Image, raw []byte, format, ext string, quality int) ([]byte, error) {
	ext = strings.ToLower(ext)
	if ext == ".fits" || ext == ".fit" {
		if !fits.IsFITS(format) {
			return nil, fmt.Errorf("can not save a %s frame as FITS", format)
		}
		return raw, nil
	}
	enc, err := imgutil.Encoder(ext, quality)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = enc(img, &buf); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}

	return buf.Bytes(), nil
}

// WriteFile replaces path atomically through a temp file in the same directory.
func WriteFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, DefaultFilePerm); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// CheckDisk warns when the filesystem holding dir is nearly full.
func CheckDisk(dir string) {
	usage, err := ps.DiskUsage(dir)
	if err != nil {
		logger.Debugf("disk usage of %s: %s", dir, err)
		return
	}
	if usage.UsedPercent > DiskWarnPercent {
		logger.Warnf("disk %s is %.1f%% full, %s free", usage.Path, usage.UsedPercent, humanize.Bytes(usage.Free))
	}
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, DefaultDirPerm)
		if err != nil {
			return err
		}
	}
	return nil
}
