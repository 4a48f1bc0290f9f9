package indi

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"qhy5-indi/pkg/indi/inditest"
)

const device = "QHY CCD QHY5LII-M-6077d"

func dialTest(t *testing.T, s *inditest.Server) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Addr())
	checkErr(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientDefinitions(t *testing.T) {
	s := inditest.NewServer(t, device, func(inditest.Settings) []byte { return nil })
	s.Start()
	c := dialTest(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	checkErr(t, c.WaitDevice(ctx, device))

	v, err := c.WaitVector(ctx, device, "CCD_INFO", NumberKind)
	checkErr(t, err)
	x, ok := v.Element("CCD_MAX_X")
	if !ok || x.Number != 1280 {
		t.Fatalf("CCD_MAX_X = %+v", x)
	}
	if px, _ := v.Element("CCD_PIXEL_SIZE"); px.Number != 3.75 {
		t.Fatalf("CCD_PIXEL_SIZE = %v", px.Number)
	}

	exp, err := c.WaitVector(ctx, device, "CCD_EXPOSURE", NumberKind)
	checkErr(t, err)
	if e := exp.Elements[0]; e.Min != 0.0001 || e.Max != 3600 {
		t.Fatalf("exposure range = %v..%v", e.Min, e.Max)
	}

	sw, err := c.WaitVector(ctx, device, "CONNECTION", SwitchKind)
	checkErr(t, err)
	if on, _ := sw.Element("CONNECT"); on.On() {
		t.Fatal("device should start disconnected")
	}

	if got := c.Devices(); len(got) != 1 || got[0] != device {
		t.Fatalf("devices = %v", got)
	}
}

func TestClientSwitchRoundTrip(t *testing.T) {
	s := inditest.NewServer(t, device, func(inditest.Settings) []byte { return nil })
	s.Start()
	c := dialTest(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.WaitVector(ctx, device, "CONNECTION", SwitchKind)
	checkErr(t, err)

	checkErr(t, c.SendSwitch(device, "CONNECTION",
		SwitchValue{Name: "CONNECT", On: true},
		SwitchValue{Name: "DISCONNECT", On: false},
	))
	err = c.wait(ctx, func() bool {
		v := c.lookup(device, "CONNECTION")
		on, _ := v.Element("CONNECT")
		return on.On()
	})
	checkErr(t, err)
}

func TestClientBLOB(t *testing.T) {
	frame := inditest.Uniform(4, 3, 100)
	s := inditest.NewServer(t, device, func(inditest.Settings) []byte { return frame })
	s.Start()
	c := dialTest(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.WaitVector(ctx, device, "CCD1", BLOBKind)
	checkErr(t, err)
	checkErr(t, c.EnableBLOB(device, "CCD1", BLOBAlso))
	checkErr(t, c.SendNumber(device, "CCD_GAIN", NumberValue{Name: "GAIN", Value: 5}))
	checkErr(t, c.SendNumber(device, "CCD_EXPOSURE", NumberValue{Name: "CCD_EXPOSURE_VALUE", Value: 0.25}))

	select {
	case b := <-c.BLOBs():
		if b.Device != device || b.Vector != "CCD1" || b.Format != ".fits" {
			t.Fatalf("unexpected blob %+v", b)
		}
		if !bytes.Equal(b.Data, frame) {
			t.Fatalf("payload mismatch: %d bytes, want %d", len(b.Data), len(frame))
		}
		if b.Size != len(frame) {
			t.Fatalf("size = %d", b.Size)
		}
	case <-ctx.Done():
		t.Fatal("no blob received")
	}

	if got := s.Settings(); got.Gain != 5 || got.Exposure != 0.25 {
		t.Fatalf("server settings = %+v", got)
	}
	if s.BLOBMode() != "Also" {
		t.Fatalf("blob mode = %q", s.BLOBMode())
	}
}

func TestClientClosedByServer(t *testing.T) {
	s := inditest.NewServer(t, device, func(inditest.Settings) []byte { return nil })
	s.Start()
	c := dialTest(t, s)

	s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.WaitVector(ctx, device, "NO_SUCH_PROPERTY", NumberKind)
	if !IsClosed(err) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestWaitContext(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := NewClient(client)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.WaitDevice(ctx, "nobody")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestHandleMessages(t *testing.T) {
	server, client := net.Pipe()
	c := NewClient(client)
	defer c.Close()

	payload := []byte("not really a fits file")
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, _ = zw.Write(payload)
	_ = zw.Close()

	stream := strings.Join([]string{
		`<defTextVector device="D" name="DRIVER_INFO" state="Idle" perm="ro"><defText name="DRIVER_NAME">QHY CCD</defText></defTextVector>`,
		`<defNumberVector device="D" name="EQUATORIAL_EOD_COORD" state="Idle" perm="rw"><defNumber name="DEC" format="%010.6m" min="-90" max="90" step="0">-12:30:00</defNumber></defNumberVector>`,
		`<setNumberVector device="D" name="EQUATORIAL_EOD_COORD" state="Busy"><oneNumber name="DEC">45:15</oneNumber></setNumberVector>`,
		`<message device="D" message="hello"/>`,
		`<defBLOBVector device="D" name="CCD1" state="Idle" perm="ro"><defBLOB name="CCD1"/></defBLOBVector>`,
		fmt.Sprintf(`<setBLOBVector device="D" name="CCD1" state="Ok"><oneBLOB name="CCD1" size="%d" format=".fits.z">%s</oneBLOB></setBLOBVector>`,
			len(payload), base64.StdEncoding.EncodeToString(z.Bytes())),
		`<delProperty device="D" name="DRIVER_INFO"/>`,
	}, "\n")
	go func() {
		_, _ = server.Write([]byte(stream))
	}()

	select {
	case b := <-c.BLOBs():
		if b.Format != ".fits" || !bytes.Equal(b.Data, payload) {
			t.Fatalf("blob = %q %q", b.Format, b.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no blob")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := c.WaitState(ctx, "D", "EQUATORIAL_EOD_COORD", StateBusy)
	checkErr(t, err)
	if dec, _ := v.Element("DEC"); math.Abs(dec.Number-45.25) > 1e-9 {
		t.Fatalf("DEC = %v", dec.Number)
	}
	err = c.wait(ctx, func() bool { return c.lookup("D", "DRIVER_INFO") == nil })
	checkErr(t, err)
	_ = server.Close()
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"1.5":       1.5,
		" 42 ":      42,
		"-12:30:00": -12.5,
		"12:30":     12.5,
		"10 15 36":  10.26,
		"1e-3":      0.001,
	}
	for in, want := range cases {
		got, err := ParseNumber(in)
		if err != nil {
			t.Errorf("ParseNumber(%q): %v", in, err)
			continue
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("ParseNumber(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "abc", "1:2:3:4", "1:x"} {
		if _, err := ParseNumber(in); err == nil {
			t.Errorf("ParseNumber(%q) should fail", in)
		}
	}
}

func TestNewNumberVectorEncoding(t *testing.T) {
	server, client := net.Pipe()
	c := NewClient(client)
	defer c.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 512)
		n, _ := server.Read(buf)
		got <- string(buf[:n])
	}()
	checkErr(t, c.SendNumber("D", "CCD_BINNING",
		NumberValue{Name: "HOR_BIN", Value: 2},
		NumberValue{Name: "VER_BIN", Value: 2},
	))
	want := `<newNumberVector device="D" name="CCD_BINNING"><oneNumber name="HOR_BIN">2</oneNumber><oneNumber name="VER_BIN">2</oneNumber></newNumberVector>` + "\n"
	if s := <-got; s != want {
		t.Fatalf("got %s\nwant %s", s, want)
	}
	_ = server.Close()
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
