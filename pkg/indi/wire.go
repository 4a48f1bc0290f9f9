package indi

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

const protocolVersion = "1.7"

// message is any top level element sent by the server.
type message struct {
	XMLName   xml.Name
	Device    string    `xml:"device,attr"`
	Name      string    `xml:"name,attr"`
	Label     string    `xml:"label,attr"`
	Group     string    `xml:"group,attr"`
	State     string    `xml:"state,attr"`
	Perm      string    `xml:"perm,attr"`
	Rule      string    `xml:"rule,attr"`
	Timestamp string    `xml:"timestamp,attr"`
	Message   string    `xml:"message,attr"`
	Elements  []element `xml:",any"`
}

type element struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Label   string `xml:"label,attr"`
	Format  string `xml:"format,attr"`
	Min     string `xml:"min,attr"`
	Max     string `xml:"max,attr"`
	Step    string `xml:"step,attr"`
	Size    string `xml:"size,attr"`
	Value   string `xml:",chardata"`
}

// splitTag turns "defNumberVector" into ("def", NumberKind).
func splitTag(tag string) (verb string, kind Kind, ok bool) {
	for _, v := range []string{"def", "set", "new"} {
		if !strings.HasPrefix(tag, v) || !strings.HasSuffix(tag, "Vector") {
			continue
		}
		k := Kind(strings.TrimSuffix(strings.TrimPrefix(tag, v), "Vector"))
		switch k {
		case NumberKind, SwitchKind, TextKind, LightKind, BLOBKind:
			return v, k, true
		}
	}
	return "", "", false
}

func (m *message) vector(kind Kind) (*Vector, error) {
	v := &Vector{
		Device:    m.Device,
		Name:      m.Name,
		Label:     m.Label,
		Group:     m.Group,
		Kind:      kind,
		State:     State(m.State),
		Perm:      m.Perm,
		Rule:      m.Rule,
		Timestamp: m.Timestamp,
	}
	for _, e := range m.Elements {
		el, err := e.toElement(kind)
		if err != nil {
			return nil, fmt.Errorf("%s.%s.%s: %w", m.Device, m.Name, e.Name, err)
		}
		v.Elements = append(v.Elements, el)
	}
	return v, nil
}

func (e *element) toElement(kind Kind) (Element, error) {
	el := Element{
		Name:   e.Name,
		Label:  e.Label,
		Format: e.Format,
		Text:   strings.TrimSpace(e.Value),
	}
	if kind != NumberKind {
		return el, nil
	}
	var err error
	if el.Number, err = ParseNumber(el.Text); err != nil {
		return el, err
	}
	// Limits are only present on definitions.
	for _, f := range []struct {
		dst *float64
		src string
	}{{&el.Min, e.Min}, {&el.Max, e.Max}, {&el.Step, e.Step}} {
		if f.src == "" {
			continue
		}
		if *f.dst, err = ParseNumber(f.src); err != nil {
			return el, err
		}
	}
	return el, nil
}

func (e *element) toBLOB(device, vector string) (BLOB, error) {
	b := BLOB{
		Device: device,
		Vector: vector,
		Name:   e.Name,
		Format: strings.TrimSpace(e.Format),
	}
	if e.Size != "" {
		size, err := strconv.Atoi(strings.TrimSpace(e.Size))
		if err != nil {
			return b, fmt.Errorf("blob size %q: %w", e.Size, err)
		}
		b.Size = size
	}
	raw := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, e.Value)
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return b, fmt.Errorf("blob %s base64: %w", e.Name, err)
	}
	if strings.HasSuffix(b.Format, ".z") {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return b, fmt.Errorf("blob %s zlib: %w", e.Name, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return b, fmt.Errorf("blob %s zlib: %w", e.Name, err)
		}
		b.Format = strings.TrimSuffix(b.Format, ".z")
	}
	b.Data = data
	return b, nil
}

// outgoing messages

type getProperties struct {
	XMLName xml.Name `xml:"getProperties"`
	Version string   `xml:"version,attr"`
	Device  string   `xml:"device,attr,omitempty"`
	Name    string   `xml:"name,attr,omitempty"`
}

type enableBLOB struct {
	XMLName xml.Name `xml:"enableBLOB"`
	Device  string   `xml:"device,attr"`
	Name    string   `xml:"name,attr,omitempty"`
	Mode    BLOBMode `xml:",chardata"`
}

type newVector struct {
	XMLName  xml.Name
	Device   string `xml:"device,attr"`
	Name     string `xml:"name,attr"`
	Elements []newElement
}

type newElement struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Value   string `xml:",chardata"`
}

func newNumberVector(device, name string, values []NumberValue) *newVector {
	v := &newVector{XMLName: xml.Name{Local: "newNumberVector"}, Device: device, Name: name}
	for _, n := range values {
		v.Elements = append(v.Elements, newElement{
			XMLName: xml.Name{Local: "oneNumber"},
			Name:    n.Name,
			Value:   strconv.FormatFloat(n.Value, 'f', -1, 64),
		})
	}
	return v
}

func newSwitchVector(device, name string, values []SwitchValue) *newVector {
	v := &newVector{XMLName: xml.Name{Local: "newSwitchVector"}, Device: device, Name: name}
	for _, s := range values {
		state := "Off"
		if s.On {
			state = "On"
		}
		v.Elements = append(v.Elements, newElement{
			XMLName: xml.Name{Local: "oneSwitch"},
			Name:    s.Name,
			Value:   state,
		})
	}
	return v
}
