// Package inditest runs an in-process INDI server exposing one fake CCD,
// enough to exercise the client and the camera wrapper in tests.
package inditest

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Settings is what the fake CCD was told before an exposure.
type Settings struct {
	Exposure float64
	Gain     float64
	Offset   float64
	Binning  float64
}

// RenderFunc produces the FITS payload for one exposure.
type RenderFunc func(s Settings) []byte

type Server struct {
	Device string
	// Format is sent as the BLOB format attribute.
	Format string
	// Connected is the initial state of the device CONNECTION switch.
	Connected bool
	// SkipBLOB makes exposures complete without sending an image.
	SkipBLOB bool

	render RenderFunc
	ln     net.Listener
	t      testing.TB

	lock      sync.Mutex
	settings  Settings
	blobMode  string
	exposures []float64
	conns     []net.Conn
	wg        sync.WaitGroup
}

// NewServer starts listening on a loopback port. Call Start after
// adjusting the exported fields.
func NewServer(t testing.TB, device string, render RenderFunc) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{
		Device: device,
		Format: ".fits",
		render: render,
		ln:     ln,
		t:      t,
		settings: Settings{
			Gain:    1,
			Binning: 1,
		},
	}
	t.Cleanup(s.Close)

	return s
}

func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				return
			}
			s.lock.Lock()
			s.conns = append(s.conns, conn)
			s.lock.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn)
			}()
		}
	}()
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.lock.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
	s.lock.Unlock()
	s.wg.Wait()
}

// Settings returns the values last pushed by the client.
func (s *Server) Settings() Settings {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.settings
}

func (s *Server) Exposures() []float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]float64(nil), s.exposures...)
}

func (s *Server) BLOBMode() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.blobMode
}

type request struct {
	XMLName  xml.Name
	Device   string `xml:"device,attr"`
	Name     string `xml:"name,attr"`
	Value    string `xml:",chardata"`
	Elements []struct {
		XMLName xml.Name
		Name    string `xml:"name,attr"`
		Value   string `xml:",chardata"`
	} `xml:",any"`
}

func (s *Server) serve(conn net.Conn) {
	dec := xml.NewDecoder(conn)
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var req request
		if err = dec.DecodeElement(&req, &start); err != nil {
			return
		}
		if err = s.handle(conn, &req); err != nil {
			return
		}
	}
}

func (s *Server) handle(w io.Writer, req *request) error {
	switch req.XMLName.Local {
	case "getProperties":
		return s.writeDefinitions(w)
	case "enableBLOB":
		s.lock.Lock()
		s.blobMode = strings.TrimSpace(req.Value)
		s.lock.Unlock()
		return nil
	case "newSwitchVector":
		if req.Name != "CONNECTION" {
			return nil
		}
		for _, e := range req.Elements {
			if e.Name == "CONNECT" {
				s.lock.Lock()
				s.Connected = strings.TrimSpace(e.Value) == "On"
				s.lock.Unlock()
			}
		}
		return s.writeConnection(w, "set")
	case "newNumberVector":
		return s.handleNumber(w, req)
	}

	return nil
}

func (s *Server) handleNumber(w io.Writer, req *request) error {
	values := make(map[string]float64)
	for _, e := range req.Elements {
		v, err := strconv.ParseFloat(strings.TrimSpace(e.Value), 64)
		if err != nil {
			s.t.Errorf("inditest: %s.%s: %v", req.Name, e.Name, err)
			return err
		}
		values[e.Name] = v
	}

	s.lock.Lock()
	switch req.Name {
	case "CCD_GAIN":
		s.settings.Gain = values["GAIN"]
	case "CCD_OFFSET":
		s.settings.Offset = values["OFFSET"]
	case "CCD_BINNING":
		s.settings.Binning = values["HOR_BIN"]
	case "CCD_EXPOSURE":
		s.settings.Exposure = values["CCD_EXPOSURE_VALUE"]
		s.exposures = append(s.exposures, s.settings.Exposure)
	}
	settings := s.settings
	mode := s.blobMode
	s.lock.Unlock()

	if req.Name != "CCD_EXPOSURE" {
		return s.writeNumbers(w, "set", req.Name, "Ok", values)
	}

	if err := s.writeNumbers(w, "set", req.Name, "Busy", values); err != nil {
		return err
	}
	if !s.SkipBLOB && (mode == "Also" || mode == "Only") {
		data := s.render(settings)
		_, err := fmt.Fprintf(w, `<setBLOBVector device=%q name="CCD1" state="Ok"><oneBLOB name="CCD1" size="%d" format=%q>%s</oneBLOB></setBLOBVector>`+"\n",
			s.Device, len(data), s.Format, wrap(base64.StdEncoding.EncodeToString(data), 72))
		if err != nil {
			return err
		}
	}
	return s.writeNumbers(w, "set", req.Name, "Ok", map[string]float64{"CCD_EXPOSURE_VALUE": 0})
}

func (s *Server) writeDefinitions(w io.Writer) error {
	if err := s.writeConnection(w, "def"); err != nil {
		return err
	}
	defs := []string{
		numberDef(s.Device, "CCD_EXPOSURE", [][5]string{{"CCD_EXPOSURE_VALUE", "0.0001", "3600", "0", "1"}}),
		numberDef(s.Device, "CCD_BINNING", [][5]string{{"HOR_BIN", "1", "2", "1", "1"}, {"VER_BIN", "1", "2", "1", "1"}}),
		numberDef(s.Device, "CCD_GAIN", [][5]string{{"GAIN", "1", "29", "1", "1"}}),
		numberDef(s.Device, "CCD_OFFSET", [][5]string{{"OFFSET", "0", "512", "1", "0"}}),
		numberDef(s.Device, "CCD_INFO", [][5]string{
			{"CCD_MAX_X", "1", "16000", "0", "1280"},
			{"CCD_MAX_Y", "1", "16000", "0", "960"},
			{"CCD_PIXEL_SIZE", "1", "40", "0", "3.75"},
			{"CCD_BITSPERPIXEL", "8", "64", "0", "8"},
		}),
		fmt.Sprintf(`<defBLOBVector device=%q name="CCD1" label="Image" group="Image Info" state="Idle" perm="ro"><defBLOB name="CCD1" label="Image"/></defBLOBVector>`, s.Device),
	}
	for _, d := range defs {
		if _, err := io.WriteString(w, d+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) writeConnection(w io.Writer, verb string) error {
	s.lock.Lock()
	connected := s.Connected
	s.lock.Unlock()
	on, off := "Off", "On"
	if connected {
		on, off = "On", "Off"
	}
	tag := verb + "SwitchVector"
	el := "oneSwitch"
	if verb == "def" {
		el = "defSwitch"
	}
	_, err := fmt.Fprintf(w, `<%s device=%q name="CONNECTION" label="Connection" group="Main Control" state="Ok" perm="rw" rule="OneOfMany"><%s name="CONNECT">%s</%s><%s name="DISCONNECT">%s</%s></%s>`+"\n",
		tag, s.Device, el, on, el, el, off, el, tag)
	return err
}

func (s *Server) writeNumbers(w io.Writer, verb, name, state string, values map[string]float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, `<%sNumberVector device=%q name=%q state=%q>`, verb, s.Device, name, state)
	for k, v := range values {
		fmt.Fprintf(&b, `<oneNumber name=%q>%s</oneNumber>`, k, strconv.FormatFloat(v, 'f', -1, 64))
	}
	fmt.Fprintf(&b, "</%sNumberVector>\n", verb)
	_, err := io.WriteString(w, b.String())
	return err
}

// numberDef elements are {name, min, max, step, value}.
func numberDef(device, name string, elements [][5]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<defNumberVector device=%q name=%q label=%q group="Main Control" state="Idle" perm="rw">`, device, name, name)
	for _, e := range elements {
		fmt.Fprintf(&b, `<defNumber name=%q label=%q format="%%g" min=%q max=%q step=%q>%s</defNumber>`, e[0], e[0], e[1], e[2], e[3], e[4])
	}
	b.WriteString("</defNumberVector>")
	return b.String()
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}
