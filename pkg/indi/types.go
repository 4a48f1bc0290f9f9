package indi

import "errors"

var ErrClosed = errors.New("indi: connection closed")

// Kind is the INDI property type.
type Kind string

const (
	NumberKind Kind = "Number"
	SwitchKind Kind = "Switch"
	TextKind   Kind = "Text"
	LightKind  Kind = "Light"
	BLOBKind   Kind = "BLOB"
)

// State is the state attribute of a property vector.
type State string

const (
	StateIdle  State = "Idle"
	StateOk    State = "Ok"
	StateBusy  State = "Busy"
	StateAlert State = "Alert"
)

// BLOBMode is the payload of an enableBLOB message.
type BLOBMode string

const (
	BLOBNever BLOBMode = "Never"
	BLOBAlso  BLOBMode = "Also"
	BLOBOnly  BLOBMode = "Only"
)

type Element struct {
	Name  string
	Label string
	// Text is the raw element content. Switches hold "On"/"Off", lights hold a State.
	Text string

	Number float64
	Format string
	Min    float64
	Max    float64
	Step   float64
}

func (e Element) On() bool {
	return e.Text == "On"
}

type Vector struct {
	Device    string
	Name      string
	Label     string
	Group     string
	Kind      Kind
	State     State
	Perm      string
	Rule      string
	Timestamp string

	Elements []Element
}

// Element looks an element up by name.
func (v *Vector) Element(name string) (Element, bool) {
	for _, e := range v.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return Element{}, false
}

func (v *Vector) clone() *Vector {
	c := *v
	c.Elements = append([]Element(nil), v.Elements...)
	return &c
}

// BLOB is one received oneBLOB element with its payload already decoded.
type BLOB struct {
	Device string
	Vector string
	Name   string
	Format string
	Size   int
	Data   []byte
}

type NumberValue struct {
	Name  string
	Value float64
}

type SwitchValue struct {
	Name string
	On   bool
}
