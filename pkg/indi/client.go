package indi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"qhy5-indi/pkg/utils"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 7624

	blobBuffer = 4
)

// Client is a connection to an INDI server. Property state is filled in
// by a reader goroutine; callers block on the Wait* methods until the
// properties they need have been defined.
type Client struct {
	conn   net.Conn
	logger *zap.SugaredLogger

	wlock sync.Mutex

	lock    sync.RWMutex
	devices map[string]map[string]*Vector
	changed chan struct{}
	closing bool
	err     error

	blobs chan BLOB
	done  chan struct{}
}

// Dial connects to addr ("host:port") and asks for all properties.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to indiserver %s: %w", addr, err)
	}
	c := NewClient(conn)
	c.logger.Infof("server connected (%s)", addr)
	if err = c.GetProperties("", ""); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// NewClient wraps an established connection and starts reading from it.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		logger:  utils.GetLogger().Named("indi"),
		devices: make(map[string]map[string]*Vector),
		changed: make(chan struct{}),
		blobs:   make(chan BLOB, blobBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c
}

// Close disconnects from the server and waits for the reader to stop.
func (c *Client) Close() error {
	c.lock.Lock()
	c.closing = true
	c.lock.Unlock()
	err := c.conn.Close()
	<-c.done
	c.logger.Info("server disconnected")

	return err
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection stopped, nil while it is alive.
func (c *Client) Err() error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.err
}

// BLOBs delivers every received BLOB element. When nobody reads, the
// oldest pending BLOB is dropped so the reader never stalls.
func (c *Client) BLOBs() <-chan BLOB {
	return c.blobs
}

func (c *Client) Devices() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Vector returns a copy of the named property.
func (c *Client) Vector(device, name string) (*Vector, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	v := c.lookup(device, name)
	if v == nil {
		return nil, false
	}
	return v.clone(), true
}

func (c *Client) WaitDevice(ctx context.Context, device string) error {
	return c.wait(ctx, func() bool {
		_, ok := c.devices[device]
		return ok
	})
}

// WaitVector blocks until device defines property name of the given kind.
func (c *Client) WaitVector(ctx context.Context, device, name string, kind Kind) (*Vector, error) {
	var found *Vector
	err := c.wait(ctx, func() bool {
		v := c.lookup(device, name)
		if v == nil || v.Kind != kind {
			return false
		}
		found = v.clone()
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s %s.%s: %w", kind, device, name, err)
	}
	return found, nil
}

// WaitState blocks until the property reaches one of the given states.
func (c *Client) WaitState(ctx context.Context, device, name string, states ...State) (*Vector, error) {
	var found *Vector
	err := c.wait(ctx, func() bool {
		v := c.lookup(device, name)
		if v == nil {
			return false
		}
		for _, s := range states {
			if v.State == s {
				found = v.clone()
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s.%s state %v: %w", device, name, states, err)
	}
	return found, nil
}

func (c *Client) GetProperties(device, name string) error {
	return c.send(&getProperties{Version: protocolVersion, Device: device, Name: name})
}

func (c *Client) EnableBLOB(device, name string, mode BLOBMode) error {
	return c.send(&enableBLOB{Device: device, Name: name, Mode: mode})
}

func (c *Client) SendNumber(device, name string, values ...NumberValue) error {
	return c.send(newNumberVector(device, name, values))
}

func (c *Client) SendSwitch(device, name string, values ...SwitchValue) error {
	return c.send(newSwitchVector(device, name, values))
}

func (c *Client) send(v any) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	data, err := xml.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.logger.Debugf("send %s", data)

	c.wlock.Lock()
	defer c.wlock.Unlock()
	if _, err = c.conn.Write(data); err != nil {
		return fmt.Errorf("indi send: %w", err)
	}
	return nil
}

// wait re-evaluates check under the read lock after every state change.
func (c *Client) wait(ctx context.Context, check func() bool) error {
	for {
		c.lock.RLock()
		ok := check()
		changed := c.changed
		c.lock.RUnlock()
		if ok {
			return nil
		}
		select {
		case <-changed:
		case <-c.done:
			if err := c.Err(); err != nil {
				return err
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) lookup(device, name string) *Vector {
	props, ok := c.devices[device]
	if !ok {
		return nil
	}
	return props[name]
}

func (c *Client) readLoop() {
	defer close(c.done)
	dec := xml.NewDecoder(c.conn)
	for {
		tok, err := dec.Token()
		if err != nil {
			c.fail(err)
			return
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var msg message
		if err = dec.DecodeElement(&msg, &start); err != nil {
			c.fail(err)
			return
		}
		c.handle(&msg)
	}
}

func (c *Client) fail(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closing {
		c.err = ErrClosed
		return
	}
	c.err = fmt.Errorf("%w: %w", ErrClosed, err)
	c.logger.Warnf("server disconnected: %s", err)
}

func (c *Client) handle(msg *message) {
	tag := msg.XMLName.Local
	if msg.Message != "" {
		c.logger.Infof("%s: %s", msg.Device, msg.Message)
	}
	switch tag {
	case "message":
		return
	case "delProperty":
		c.remove(msg.Device, msg.Name)
		return
	}

	verb, kind, ok := splitTag(tag)
	if !ok {
		c.logger.Debugf("ignore <%s>", tag)
		return
	}
	switch verb {
	case "def":
		v, err := msg.vector(kind)
		if err != nil {
			c.logger.Warnf("bad definition: %s", err)
			return
		}
		c.define(v)
	case "set":
		if kind == BLOBKind {
			c.receiveBLOBs(msg)
		}
		c.update(msg, kind)
	}
}

func (c *Client) define(v *Vector) {
	c.lock.Lock()
	defer c.lock.Unlock()
	props, ok := c.devices[v.Device]
	if !ok {
		props = make(map[string]*Vector)
		c.devices[v.Device] = props
		c.logger.Infof("new device %s", v.Device)
	}
	props[v.Name] = v
	c.logger.Debugf("new property %s as %s for device %s", v.Name, v.Kind, v.Device)
	c.broadcast()
}

func (c *Client) update(msg *message, kind Kind) {
	c.lock.Lock()
	defer c.lock.Unlock()
	v := c.lookup(msg.Device, msg.Name)
	if v == nil || v.Kind != kind {
		c.logger.Debugf("update for undefined property %s.%s", msg.Device, msg.Name)
		return
	}
	if msg.State != "" {
		v.State = State(msg.State)
	}
	if msg.Timestamp != "" {
		v.Timestamp = msg.Timestamp
	}
	if kind != BLOBKind {
		for _, e := range msg.Elements {
			updated, err := e.toElement(kind)
			if err != nil {
				c.logger.Warnf("bad update %s.%s: %s", msg.Device, msg.Name, err)
				continue
			}
			for i := range v.Elements {
				if v.Elements[i].Name != updated.Name {
					continue
				}
				v.Elements[i].Text = updated.Text
				v.Elements[i].Number = updated.Number
			}
		}
	}
	c.broadcast()
}

func (c *Client) remove(device, name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if name == "" {
		delete(c.devices, device)
		c.logger.Infof("remove device %s", device)
	} else if props, ok := c.devices[device]; ok {
		delete(props, name)
		c.logger.Debugf("remove property %s for device %s", name, device)
	}
	c.broadcast()
}

func (c *Client) receiveBLOBs(msg *message) {
	for _, e := range msg.Elements {
		b, err := e.toBLOB(msg.Device, msg.Name)
		if err != nil {
			c.logger.Warnf("%s.%s: %s", msg.Device, msg.Name, err)
			continue
		}
		c.logger.Infof("new BLOB %s.%s size %s format %s", b.Vector, b.Name, humanize.Bytes(uint64(len(b.Data))), b.Format)
		c.push(b)
	}
}

func (c *Client) push(b BLOB) {
	select {
	case c.blobs <- b:
		return
	default:
	}
	select {
	case old := <-c.blobs:
		c.logger.Warnf("drop unread BLOB %s.%s", old.Vector, old.Name)
	default:
	}
	select {
	case c.blobs <- b:
	default:
		c.logger.Warnf("drop BLOB %s.%s", b.Vector, b.Name)
	}
}

// broadcast wakes every waiter. Callers hold the write lock.
func (c *Client) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// IsClosed reports whether err comes from a lost connection.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
