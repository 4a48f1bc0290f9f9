package server

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"qhy5-indi/pkg/capture"
	"qhy5-indi/pkg/storage"
	"qhy5-indi/pkg/utils"
	"qhy5-indi/pkg/utils/ps"
	"qhy5-indi/pkg/webdav"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"
)

// Server is the read-mostly HTTP API over a running capture loop.
type Server struct {
	status *capture.Status
	store  *storage.Storage
	dav    *webdav.Webdav
	router *gin.Engine
}

type Option func(s *Server)

// WithWebdav lets PUT /api/webdav?op=start|shutdown toggle the share.
func WithWebdav(w *webdav.Webdav) Option {
	return func(s *Server) {
		s.dav = w
	}
}

func New(status *capture.Status, store *storage.Storage, opts ...Option) *Server {
	s := &Server{
		status: status,
		store:  store,
	}
	for _, o := range opts {
		o(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")
	apiRouter.GET("/status", s.getStatus)
	apiRouter.GET("/system", s.getSystem)
	apiRouter.PUT("/webdav", s.ctlWebdav)

	imageRouter := apiRouter.Group("/images")
	imageRouter.GET("", s.listImages)
	imageRouter.GET("/latest", s.latestImage)
	imageRouter.GET("/:name", s.getImage)
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on port until ctx ends.
func (s *Server) Run(ctx context.Context, port int) <-chan error {
	return utils.Serve(ctx, "http", s.router, port)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.status.Snapshot()))
}

type system struct {
	CPU    ps.CPU    `json:"cpu"`
	Memory ps.Memory `json:"memory"`
	Disk   ps.Disk   `json:"disk"`

	// bytes under the archive directory, absent without -archive
	ArchiveSize int64 `json:"archiveSize,omitempty"`
}

func (s *Server) getSystem(c *gin.Context) {
	var (
		res system
		err error
	)
	if res.CPU, err = ps.CPUStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if res.Memory, err = ps.MemoryStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if res.Disk, err = ps.DiskUsage(filepath.Dir(s.store.Output())); err != nil {
		internalErr(c, err)
		return
	}
	if a := s.store.Archive(); a != nil {
		if res.ArchiveSize, err = ps.DirDiskUsage(a.Dir()); err != nil {
			internalErr(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, jsend.Success(res))
}

// latestImage serves the output file as last written.
func (s *Server) latestImage(c *gin.Context) {
	data, err := os.ReadFile(s.store.Output())
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("no image yet"))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}
	c.Data(http.StatusOK, contentType(s.store.Output()), data)
}

func (s *Server) listImages(c *gin.Context) {
	a := s.store.Archive()
	if a == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("archive not enabled"))
		return
	}
	files, err := a.ListImages()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) getImage(c *gin.Context) {
	a := s.store.Archive()
	if a == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("archive not enabled"))
		return
	}
	name := c.Param("name")
	data, err := a.GetImage(name)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, jsend.SimpleErr(fmt.Sprintf("image %s not found", name)))
		return
	case err != nil:
		internalErr(c, err)
		return
	}
	c.Data(http.StatusOK, contentType(name), data)
}

func (s *Server) ctlWebdav(c *gin.Context) {
	if s.dav == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("webdav not configured"))
		return
	}
	switch c.Query("op") {
	case webDavStart:
		if !s.dav.Start() {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("webdav on port %d", s.dav.Port())))
	case webDavShutdown:
		if !s.dav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".fits", ".fit":
		return "application/fits"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
