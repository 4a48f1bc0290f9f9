// Package app wires the flags of the two capture tools to a connected
// camera, storage and the optional servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"qhy5-indi/pkg/camera"
	"qhy5-indi/pkg/capture"
	"qhy5-indi/pkg/config"
	"qhy5-indi/pkg/indi"
	"qhy5-indi/pkg/server"
	"qhy5-indi/pkg/storage"
	"qhy5-indi/pkg/types"
	"qhy5-indi/pkg/utils"
	"qhy5-indi/pkg/video"
	"qhy5-indi/pkg/webdav"
)

type App struct {
	Options *config.Options
	Client  *indi.Client
	CCD     *camera.CCD
	Store   *storage.Storage
	Status  *capture.Status
	Runner  *capture.Runner
	// Limits are the configured limits narrowed to what the driver accepts.
	Limits types.Limits

	video  *video.Builder
	logger *zap.SugaredLogger
}

// Start connects to the INDI server and opens the camera. Everything Start
// acquired is released by Close, also when Start fails half way.
func Start(ctx context.Context, opts *config.Options) (a *App, err error) {
	utils.SetVerbosity(opts.Verbose, opts.Debug)
	mode := "capture"
	if opts.IsAuto() {
		mode = "auto"
	}
	a = &App{
		Options: opts,
		Status:  capture.NewStatus(opts.Camera, mode),
		logger:  utils.GetLogger().Named(mode),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if opts.NTPServer != "" {
		if _, err := utils.CheckClock(opts.NTPServer); err != nil {
			a.logger.Warn(err)
		}
	}

	if a.Store, err = storage.New(opts.Output, opts.Quality, opts.ArchiveDir); err != nil {
		return a, err
	}
	storage.CheckDisk(filepath.Dir(opts.Output))
	a.startServers(ctx)

	openCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if a.Client, err = indi.Dial(openCtx, opts.Addr()); err != nil {
		return a, err
	}
	a.logger.Infof("connected to %s", opts.Addr())
	if a.CCD, err = camera.Open(openCtx, a.Client, opts.Camera, camera.WithDownloadTimeout(opts.Timeout)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return a, fmt.Errorf("camera %q not available on %s (devices: %v): %w", opts.Camera, opts.Addr(), a.Client.Devices(), err)
		}
		return a, err
	}
	a.logger.Infof("camera %s: %s", opts.Camera, a.CCD.Info())

	lo, hi := a.CCD.ExposureRange()
	a.Limits = camera.ClampLimits(opts.Limits, lo, hi)
	runnerOpts := []capture.Option{
		capture.WithStatus(a.Status),
		capture.WithNormalize(opts.Normalize),
	}
	if opts.Video != "" {
		if a.video, err = video.NewBuilder(opts.Video, opts.FPS, opts.Quality); err != nil {
			return a, err
		}
		runnerOpts = append(runnerOpts, capture.WithVideo(a.video))
	}
	a.Runner = capture.NewRunner(a.CCD, a.Store, runnerOpts...)

	return a, nil
}

func (a *App) startServers(ctx context.Context) {
	opts := a.Options
	var dav *webdav.Webdav
	if opts.WebdavPort > 0 {
		dir := filepath.Dir(opts.Output)
		if opts.ArchiveDir != "" {
			dir = opts.ArchiveDir
		}
		dav = webdav.New(ctx, opts.WebdavPort, dir)
		dav.Start()
	}
	if opts.HTTPPort > 0 {
		var srvOpts []server.Option
		if dav != nil {
			srvOpts = append(srvOpts, server.WithWebdav(dav))
		}
		server.New(a.Status, a.Store, srvOpts...).Run(ctx, opts.HTTPPort)
	}
}

// Close disconnects the camera and the INDI connection and finalizes the
// time-lapse, returning the first error.
func (a *App) Close() error {
	var errs []error
	if a.CCD != nil {
		if err := a.CCD.Close(); err != nil && !indi.IsClosed(err) {
			errs = append(errs, err)
		}
	}
	if a.Client != nil {
		if err := a.Client.Close(); err != nil && !indi.IsClosed(err) {
			errs = append(errs, err)
		}
	}
	if a.video != nil {
		errs = append(errs, a.video.Close())
	}
	return errors.Join(errs...)
}
