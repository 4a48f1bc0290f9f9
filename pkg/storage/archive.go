package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"qhy5-indi/pkg/types"
)

var ErrInvalidName = errors.New("invalid image name")

// Archive keeps numbered copies <name>-<n><ext> of every saved frame.
type Archive struct {
	dir  string
	name string
	ext  string

	lock sync.Mutex
}

type ImagesInfo struct {
	MaxNumber   int    `json:"maxNumber"`
	LatestImage string `json:"latestImage"`

	UpdateAt time.Time `json:"updateAt"`
}

func NewArchive(dir, name, ext string) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive dir can not be empty")
	}
	a := &Archive{
		dir:  dir,
		name: name,
		ext:  ext,
	}
	if err := mkdirAll(dir); err != nil {
		return nil, err
	}
	_, err := os.Stat(a.getImageInfoPath())
	if errors.Is(err, os.ErrNotExist) {
		return a, a.dumpImageInfo(&ImagesInfo{})
	}

	return a, err
}

func (a *Archive) Dir() string {
	return a.dir
}

// Save stores image under the next number and returns its file name.
func (a *Archive) Save(image []byte) (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	info, err := a.loadImageInfo()
	if err != nil {
		return "", err
	}
	name := a.generateImageName(info.MaxNumber)
	if err = WriteFile(a.GetImagePath(name), image); err != nil {
		return "", err
	}

	info.MaxNumber++
	info.LatestImage = name
	if err = a.dumpImageInfo(info); err != nil {
		return "", err
	}

	return name, nil
}

func (a *Archive) LatestImageName() (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	info, err := a.loadImageInfo()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

func (a *Archive) GetImage(name string) ([]byte, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	file, err := os.ReadFile(a.GetImagePath(name))
	if err != nil {
		return nil, fmt.Errorf("picture not found, %w", err)
	}

	return file, nil
}

// ListImages returns the archived frames, newest first.
func (a *Archive) ListImages() ([]types.File, error) {
	files, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	var res []types.File
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), a.ext) || !strings.HasPrefix(file.Name(), a.name+"-") {
			continue
		}
		fi, err := file.Info()
		if err != nil {
			continue
		}
		res = append(res, types.File{
			Name:    file.Name(),
			Size:    humanize.Bytes(uint64(fi.Size())),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ModTime.After(res[j].ModTime)
	})

	return res, nil
}

func (a *Archive) GetImagePath(name string) string {
	return filepath.Join(a.dir, name)
}

func (a *Archive) generateImageName(number int) string {
	return fmt.Sprintf("%s-%d%s", a.name, number, a.ext)
}

func (a *Archive) loadImageInfo() (*ImagesInfo, error) {
	data, err := os.ReadFile(a.getImageInfoPath())
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	info := &ImagesInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (a *Archive) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return WriteFile(a.getImageInfoPath(), data)
}

func (a *Archive) getImageInfoPath() string {
	return filepath.Join(a.dir, DefaultInfoFile)
}

func validName(name string) bool {
	return name != "" && name == filepath.Base(name) && !strings.HasPrefix(name, ".")
}
