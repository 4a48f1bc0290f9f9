package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/looplab/fsm"

	"qhy5-indi/pkg/indi"
)

const (
	stateDisconnected = "disconnected"
	stateIdle         = "idle"
	stateExposing     = "exposing"

	evConnect    = "connect"
	evExpose     = "expose"
	evComplete   = "complete"
	evAbort      = "abort"
	evDisconnect = "disconnect"
)

func newState(name string) *fsm.FSM {
	return fsm.NewFSM(
		stateDisconnected,
		fsm.Events{
			{Name: evConnect, Src: []string{stateDisconnected}, Dst: stateIdle},
			{Name: evExpose, Src: []string{stateIdle}, Dst: stateExposing},
			{Name: evComplete, Src: []string{stateExposing}, Dst: stateIdle},
			{Name: evAbort, Src: []string{stateExposing}, Dst: stateIdle},
			{Name: evDisconnect, Src: []string{stateIdle, stateExposing}, Dst: stateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("%s: %s -> %s", name, e.Src, e.Dst)
			},
		},
	)
}

// fire runs a transition. Events are not tied to the caller's context so
// that an aborted exposure can still return to idle.
func (c *CCD) fire(event string) error {
	return c.state.Event(context.Background(), event)
}

// State is the current lifecycle state name.
func (c *CCD) State() string {
	return c.state.Current()
}

// Expose starts an exposure of the given seconds and blocks until the CCD1
// image arrives, the download timeout passes or ctx ends.
func (c *CCD) Expose(ctx context.Context, seconds float64) (*indi.BLOB, error) {
	if !c.state.Can(evExpose) {
		return nil, fmt.Errorf("%w (state %s)", ErrBusy, c.state.Current())
	}
	if err := c.fire(evExpose); err != nil {
		return nil, err
	}

	blob, err := c.expose(ctx, seconds)
	if err != nil {
		_ = c.fire(evAbort)
		return nil, err
	}
	_ = c.fire(evComplete)

	return blob, nil
}

func (c *CCD) expose(ctx context.Context, seconds float64) (*indi.BLOB, error) {
	c.drain()

	start := time.Now()
	err := c.client.SendNumber(c.name, PropExposure, indi.NumberValue{
		Name:  c.exposure.Elements[0].Name,
		Value: seconds,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(seconds*float64(time.Second)) + c.downloadTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		select {
		case b := <-c.client.BLOBs():
			if b.Device != c.name || b.Vector != BLOBName {
				continue
			}
			logger.Infof("%s: image %s %s after %s", c.name, b.Format,
				humanize.Bytes(uint64(len(b.Data))), time.Since(start).Round(time.Millisecond))
			return &b, nil
		case <-c.client.Done():
			if err := c.client.Err(); err != nil {
				return nil, err
			}
			return nil, indi.ErrClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("exposure %.4gs: no image within %s: %w", seconds, timeout, ctx.Err())
		}
	}
}

// drain drops BLOBs left over from earlier exposures.
func (c *CCD) drain() {
	for {
		select {
		case b := <-c.client.BLOBs():
			logger.Debugf("%s: discard stale BLOB %s", c.name, b.Name)
		default:
			return
		}
	}
}
