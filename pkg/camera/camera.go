package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"qhy5-indi/pkg/indi"
)

const (
	DefaultName            = "QHY CCD QHY5LII-M-6077d"
	DefaultDownloadTimeout = 30 * time.Second

	PropConnection = "CONNECTION"
	PropExposure   = "CCD_EXPOSURE"
	PropBinning    = "CCD_BINNING"
	PropGain       = "CCD_GAIN"
	PropOffset     = "CCD_OFFSET"
	PropInfo       = "CCD_INFO"
	BLOBName       = "CCD1"
)

var (
	ErrBusy     = errors.New("camera: exposure in progress")
	ErrProperty = errors.New("camera: unexpected property layout")
)

// Info is the sensor description from CCD_INFO.
type Info struct {
	MaxX         int
	MaxY         int
	PixelSize    float64
	BitsPerPixel int
}

func (i Info) String() string {
	return fmt.Sprintf("%dx%d %.2fum %dbit", i.MaxX, i.MaxY, i.PixelSize, i.BitsPerPixel)
}

// CCD drives one INDI camera device.
type CCD struct {
	client *indi.Client
	name   string

	downloadTimeout time.Duration
	state           *fsm.FSM

	exposure *indi.Vector
	binning  *indi.Vector
	gain     *indi.Vector
	offset   *indi.Vector
	info     Info
}

type Option func(*CCD)

// WithDownloadTimeout sets how long to wait for the image past the exposure time.
func WithDownloadTimeout(d time.Duration) Option {
	return func(c *CCD) {
		c.downloadTimeout = d
	}
}

// Open waits for the device, connects it when needed and collects the
// properties used for capturing. BLOBs of CCD1 are enabled in "Also" mode.
func Open(ctx context.Context, client *indi.Client, name string, opts ...Option) (*CCD, error) {
	c := &CCD{
		client:          client,
		name:            name,
		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = newState(name)

	if err := client.WaitDevice(ctx, name); err != nil {
		return nil, fmt.Errorf("camera %q: %w", name, err)
	}
	conn, err := client.WaitVector(ctx, name, PropConnection, indi.SwitchKind)
	if err != nil {
		return nil, err
	}
	if on, _ := conn.Element("CONNECT"); !on.On() {
		logger.Infof("connecting %s", name)
		err = client.SendSwitch(name, PropConnection,
			indi.SwitchValue{Name: "CONNECT", On: true},
			indi.SwitchValue{Name: "DISCONNECT", On: false},
		)
		if err != nil {
			return nil, err
		}
	}

	for _, p := range []struct {
		dst **indi.Vector
		nam string
		min int
	}{
		{&c.exposure, PropExposure, 1},
		{&c.binning, PropBinning, 2},
		{&c.gain, PropGain, 1},
		{&c.offset, PropOffset, 1},
	} {
		v, err := client.WaitVector(ctx, name, p.nam, indi.NumberKind)
		if err != nil {
			return nil, err
		}
		if len(v.Elements) < p.min {
			return nil, fmt.Errorf("%w: %s has %d elements", ErrProperty, p.nam, len(v.Elements))
		}
		*p.dst = v
	}

	info, err := client.WaitVector(ctx, name, PropInfo, indi.NumberKind)
	if err != nil {
		return nil, err
	}
	c.info = parseInfo(info)
	logger.Infof("%s: sensor %s", name, c.info)

	if err = client.EnableBLOB(name, BLOBName, indi.BLOBAlso); err != nil {
		return nil, err
	}
	if _, err = client.WaitVector(ctx, name, BLOBName, indi.BLOBKind); err != nil {
		return nil, err
	}
	if err = c.fire(evConnect); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *CCD) Name() string {
	return c.name
}

func (c *CCD) Info() Info {
	return c.info
}

// ExposureRange is the exposure range in seconds advertised by the driver,
// zero when the driver gives none.
func (c *CCD) ExposureRange() (lo, hi float64) {
	e := c.exposure.Elements[0]
	return e.Min, e.Max
}

// Close stops BLOB delivery for this device. The device stays connected
// on the server.
func (c *CCD) Close() error {
	if c.state.Current() == stateDisconnected {
		return nil
	}
	_ = c.fire(evDisconnect)
	return c.client.EnableBLOB(c.name, BLOBName, indi.BLOBNever)
}

func parseInfo(v *indi.Vector) Info {
	var info Info
	for _, e := range v.Elements {
		switch e.Name {
		case "CCD_MAX_X":
			info.MaxX = int(e.Number)
		case "CCD_MAX_Y":
			info.MaxY = int(e.Number)
		case "CCD_PIXEL_SIZE":
			info.PixelSize = e.Number
		case "CCD_BITSPERPIXEL":
			info.BitsPerPixel = int(e.Number)
		}
	}
	return info
}
