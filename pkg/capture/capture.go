package capture

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"qhy5-indi/pkg/exposure"
	"qhy5-indi/pkg/fits"
	"qhy5-indi/pkg/indi"
	"qhy5-indi/pkg/storage"
	"qhy5-indi/pkg/types"
	"qhy5-indi/pkg/utils"
	"qhy5-indi/pkg/video"
)

// Camera is the part of camera.CCD a Runner drives.
type Camera interface {
	Apply(s types.Settings) error
	Expose(ctx context.Context, seconds float64) (*indi.BLOB, error)
}

type Runner struct {
	cam       Camera
	store     *storage.Storage
	video     *video.Builder
	status    *Status
	normalize bool
	logger    *zap.SugaredLogger
}

type Option func(r *Runner)

func WithVideo(b *video.Builder) Option {
	return func(r *Runner) {
		r.video = b
	}
}

func WithStatus(s *Status) Option {
	return func(r *Runner) {
		r.status = s
	}
}

// WithNormalize stretches min..max to the full 8-bit range before saving.
func WithNormalize(normalize bool) Option {
	return func(r *Runner) {
		r.normalize = normalize
	}
}

func NewRunner(cam Camera, store *storage.Storage, opts ...Option) *Runner {
	r := &Runner{
		cam:       cam,
		store:     store,
		normalize: true,
		logger:    utils.GetLogger().Named("capture"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Capture takes one frame with s and saves it.
func (r *Runner) Capture(ctx context.Context, s types.Settings) (*types.Result, error) {
	shot, err := r.shoot(ctx, s)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := r.save(shot, 1, "")
	if err != nil {
		return nil, r.fail(err)
	}
	return res, nil
}

// Auto searches for settings that bring the mean brightness into the target
// band, at most adj.MaxTries() exposures. The last frame is saved whether or
// not the search converged. The returned settings are where the next search
// should start.
func (r *Runner) Auto(ctx context.Context, s types.Settings, adj *exposure.Adjuster) (*types.Result, types.Settings, error) {
	adj.Reset()
	var (
		shot    *frameShot
		verdict exposure.Verdict
		next    = s
		tries   int
	)
	for tries = 1; tries <= adj.MaxTries(); tries++ {
		var err error
		shot, err = r.shoot(ctx, next)
		if err != nil {
			return nil, s, r.fail(err)
		}
		used := next
		next, verdict = adj.Next(used, shot.mean)
		r.logger.Infof("try %d: %s mean %.1f: %s", tries, used, shot.mean, verdict)
		if verdict == exposure.OK || verdict == exposure.AtLimit {
			break
		}
	}
	if tries > adj.MaxTries() {
		tries = adj.MaxTries()
		r.logger.Warnf("no convergence after %d tries, keeping last frame", tries)
	}

	res, err := r.save(shot, tries, verdict.String())
	if err != nil {
		return nil, s, r.fail(err)
	}
	return res, next, nil
}

type frameShot struct {
	settings types.Settings
	blob     *indi.BLOB
	frame    *fits.Frame
	mean     float64
	takenAt  time.Time
}

func (r *Runner) shoot(ctx context.Context, s types.Settings) (*frameShot, error) {
	if err := r.cam.Apply(s); err != nil {
		return nil, err
	}
	takenAt := time.Now()
	blob, err := r.cam.Expose(ctx, s.Exposure)
	if err != nil {
		return nil, err
	}
	frame, err := fits.Decode(blob.Data, blob.Format)
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", blob.Format, err)
	}

	return &frameShot{
		settings: s,
		blob:     blob,
		frame:    frame,
		mean:     frame.Mean8(),
		takenAt:  takenAt,
	}, nil
}

func (r *Runner) save(shot *frameShot, tries int, verdict string) (*types.Result, error) {
	img := shot.frame.Image(r.normalize)
	archived, err := r.store.Save(img, shot.blob.Data, shot.blob.Format)
	if err != nil {
		return nil, err
	}
	if r.video != nil {
		if _, err = r.video.Add(img); err != nil {
			r.logger.Errorf("video: %s", err)
		}
	}

	stats := shot.frame.Stats()
	res := &types.Result{
		Settings: shot.settings,
		Width:    shot.frame.Width,
		Height:   shot.frame.Height,
		Bitpix:   shot.frame.Bitpix,
		Mean:     shot.mean,
		Min:      stats.Min,
		Max:      stats.Max,
		Verdict:  verdict,
		Tries:    tries,
		File:     r.store.Output(),
		Archived: archived,
		TakenAt:  shot.takenAt,
	}
	if r.status != nil {
		r.status.Set(res)
	}

	return res, nil
}

func (r *Runner) fail(err error) error {
	if r.status != nil {
		r.status.Fail(err)
	}
	return err
}
