package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"qhy5-indi/pkg/capture"
	"qhy5-indi/pkg/storage"
	"qhy5-indi/pkg/types"
	"qhy5-indi/pkg/webdav"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, archive bool, opts ...Option) (*Server, *storage.Storage, *capture.Status) {
	t.Helper()
	dir := t.TempDir()
	archiveDir := ""
	if archive {
		archiveDir = filepath.Join(dir, "archive")
	}
	store, err := storage.New(filepath.Join(dir, "blob.png"), storage.DefaultQuality, archiveDir)
	if err != nil {
		t.Fatal(err)
	}
	status := capture.NewStatus("QHY CCD QHY5LII-M-6077d", "auto")
	return New(status, store, opts...), store, status
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestStatus(t *testing.T) {
	s, _, status := newTestServer(t, false)
	status.Set(&types.Result{Settings: types.Settings{Exposure: 0.5, Gain: 1, Binning: 2}, Mean: 127.5, Verdict: "ok"})

	w := do(t, s, http.MethodGet, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	var snap capture.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if env.Status != "success" || snap.Runs != 1 || snap.Last == nil || snap.Last.Mean != 127.5 || snap.Mode != "auto" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestLatestImage(t *testing.T) {
	s, store, _ := newTestServer(t, false)
	if w := do(t, s, http.MethodGet, "/api/images/latest"); w.Code != http.StatusNotFound {
		t.Fatalf("code before first frame = %d", w.Code)
	}

	if _, err := store.Save(image.NewGray(image.Rect(0, 0, 4, 4)), nil, ".fits"); err != nil {
		t.Fatal(err)
	}
	w := do(t, s, http.MethodGet, "/api/images/latest")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("code %d type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("not a png")
	}
}

func TestArchiveImages(t *testing.T) {
	s, store, _ := newTestServer(t, true)
	for i := 0; i < 2; i++ {
		if _, err := store.Save(image.NewGray(image.Rect(0, 0, 4, 4)), nil, ".fits"); err != nil {
			t.Fatal(err)
		}
	}

	w := do(t, s, http.MethodGet, "/api/images")
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	var files []types.File
	if err := json.Unmarshal(env.Data, &files); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || len(files) != 2 {
		t.Fatalf("code %d files %+v", w.Code, files)
	}

	if w = do(t, s, http.MethodGet, "/api/images/blob-1.png"); w.Code != http.StatusOK {
		t.Fatalf("get image code = %d", w.Code)
	}
	if w = do(t, s, http.MethodGet, "/api/images/blob-9.png"); w.Code != http.StatusNotFound {
		t.Fatalf("missing image code = %d", w.Code)
	}
	if w = do(t, s, http.MethodGet, "/api/images/.hidden"); w.Code != http.StatusBadRequest {
		t.Fatalf("hidden image code = %d", w.Code)
	}
}

func TestNoArchive(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	if w := do(t, s, http.MethodGet, "/api/images"); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestNoRoute(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	w := do(t, s, http.MethodGet, "/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("not jsend: %s", w.Body.String())
	}
}

func TestSystem(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	if w := do(t, s, http.MethodGet, "/api/system"); w.Code != http.StatusOK {
		t.Fatalf("code = %d body %s", w.Code, w.Body.String())
	}
}

func TestSystemArchiveSize(t *testing.T) {
	s, store, _ := newTestServer(t, true)
	for i := 0; i < 2; i++ {
		if _, err := store.Save(image.NewGray(image.Rect(0, 0, 4, 4)), nil, ".fits"); err != nil {
			t.Fatal(err)
		}
	}

	w := do(t, s, http.MethodGet, "/api/system")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body %s", w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	var sys struct {
		ArchiveSize int64 `json:"archiveSize"`
	}
	if err := json.Unmarshal(env.Data, &sys); err != nil {
		t.Fatal(err)
	}
	if sys.ArchiveSize <= 0 {
		t.Fatalf("archive size = %d", sys.ArchiveSize)
	}
}

func TestWebdavControl(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	if w := do(t, s, http.MethodPut, "/api/webdav?op=start"); w.Code != http.StatusNotFound {
		t.Fatalf("unconfigured webdav code = %d", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dav := webdav.New(ctx, 0, t.TempDir())
	s, _, _ = newTestServer(t, false, WithWebdav(dav))
	if w := do(t, s, http.MethodPut, "/api/webdav?op=start"); w.Code != http.StatusOK || !dav.Running() {
		t.Fatalf("start code = %d", w.Code)
	}
	if w := do(t, s, http.MethodPut, "/api/webdav?op=shutdown"); w.Code != http.StatusOK || dav.Running() {
		t.Fatalf("shutdown code = %d", w.Code)
	}
	if w := do(t, s, http.MethodPut, "/api/webdav?op=reboot"); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown op code = %d", w.Code)
	}
}
