package types

import (
	"fmt"
	"time"
)

// Settings are the values pushed to the camera before each exposure.
type Settings struct {
	// Exposure in seconds.
	Exposure float64 `json:"exposure" yaml:"exposure"`
	Gain     int     `json:"gain" yaml:"gain"`
	Offset   int     `json:"offset" yaml:"offset"`
	Binning  int     `json:"binning" yaml:"binning"`
}

func (s Settings) String() string {
	return fmt.Sprintf("exposure=%.4gs gain=%d offset=%d bin=%dx%d", s.Exposure, s.Gain, s.Offset, s.Binning, s.Binning)
}

// Limits bound what a camera accepts. Defaults describe the QHY5L-II mono.
type Limits struct {
	MinGain     int     `json:"minGain" yaml:"min_gain"`
	MaxGain     int     `json:"maxGain" yaml:"max_gain"`
	MinOffset   int     `json:"minOffset" yaml:"min_offset"`
	MaxOffset   int     `json:"maxOffset" yaml:"max_offset"`
	MinExposure float64 `json:"minExposure" yaml:"min_exposure"`
	MaxExposure float64 `json:"maxExposure" yaml:"max_exposure"`
}

// Result describes one saved capture.
type Result struct {
	Settings Settings `json:"settings"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Bitpix   int      `json:"bitpix"`

	// Mean is scaled to 0..255, Min and Max are raw sample values.
	Mean     float64   `json:"mean"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Verdict  string    `json:"verdict,omitempty"`
	Tries    int       `json:"tries,omitempty"`
	File     string    `json:"file"`
	Archived string    `json:"archived,omitempty"`
	TakenAt  time.Time `json:"takenAt"`
}

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}
