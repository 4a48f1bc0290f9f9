// Package exposure adjusts exposure time and gain so that the mean frame
// brightness lands inside target ± tolerance (0..255 ADU scale).
//
// Exposure changes are proportional to target/mean, bounded per step, and
// damped to the square root of the factor right after the search changes
// direction. Gain is stepped instead of exposure when exposure is already
// short (too bright) or long (too dark) relative to Threshold.
package exposure

import (
	"fmt"
	"math"

	"qhy5-indi/pkg/types"
)

const (
	DefaultTarget    = 128
	DefaultTolerance = 20
	DefaultMaxTries  = 15
	DefaultThreshold = 1.0
	DefaultGainStep  = 4
	DefaultMaxFactor = 4
)

type Verdict int

const (
	OK Verdict = iota
	TooBright
	TooDark
	// AtLimit means the frame is off target but no setting can move further.
	AtLimit
)

func (v Verdict) String() string {
	switch v {
	case OK:
		return "ok"
	case TooBright:
		return "too bright"
	case TooDark:
		return "too dark"
	case AtLimit:
		return "at limit"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

type Config struct {
	Target    float64 `yaml:"target"`
	Tolerance float64 `yaml:"tolerance"`
	MaxTries  int     `yaml:"max_tries"`
	// Threshold (seconds) decides between stepping gain and exposure.
	Threshold float64 `yaml:"threshold"`
	GainStep  int     `yaml:"gain_step"`
	// MaxFactor bounds one exposure step to [1/MaxFactor, MaxFactor].
	MaxFactor float64 `yaml:"max_factor"`
}

func DefaultConfig() Config {
	return Config{
		Target:    DefaultTarget,
		Tolerance: DefaultTolerance,
		MaxTries:  DefaultMaxTries,
		Threshold: DefaultThreshold,
		GainStep:  DefaultGainStep,
		MaxFactor: DefaultMaxFactor,
	}
}

// Adjuster keeps the direction of the previous steps between calls to Next.
type Adjuster struct {
	cfg    Config
	limits types.Limits

	lastExpInc  bool
	lastExpDec  bool
	lastGainInc bool
	lastGainDec bool
}

func NewAdjuster(cfg Config, limits types.Limits) *Adjuster {
	if cfg.MaxFactor <= 1 {
		cfg.MaxFactor = DefaultMaxFactor
	}
	return &Adjuster{cfg: cfg, limits: limits}
}

// Reset forgets the step history, used when a new search starts.
func (a *Adjuster) Reset() {
	a.lastExpInc, a.lastExpDec = false, false
	a.lastGainInc, a.lastGainDec = false, false
}

// Judge classifies a mean brightness against the target band.
func (a *Adjuster) Judge(mean float64) Verdict {
	switch {
	case mean >= a.cfg.Target+a.cfg.Tolerance:
		return TooBright
	case mean <= a.cfg.Target-a.cfg.Tolerance:
		return TooDark
	}
	return OK
}

// Next returns the settings for the next exposure given the mean brightness
// measured with s. When the verdict is OK or AtLimit, s is returned unchanged.
func (a *Adjuster) Next(s types.Settings, mean float64) (types.Settings, Verdict) {
	verdict := a.Judge(mean)
	next := s
	switch verdict {
	case OK:
		return s, OK
	case TooBright:
		if s.Exposure <= a.cfg.Threshold && s.Gain > a.limits.MinGain && !a.lastGainInc {
			next.Gain = max(s.Gain-a.cfg.GainStep, a.limits.MinGain)
			a.lastGainDec = true
		} else {
			next.Exposure = a.clampExposure(s.Exposure * a.factor(mean, a.lastExpInc))
			a.lastExpDec = true
			a.lastGainDec = false
		}
	case TooDark:
		if s.Exposure >= a.cfg.Threshold && s.Gain < a.limits.MaxGain && !a.lastGainDec {
			next.Gain = min(s.Gain+a.cfg.GainStep, a.limits.MaxGain)
			a.lastGainInc = true
		} else {
			next.Exposure = a.clampExposure(s.Exposure * a.factor(mean, a.lastExpDec))
			a.lastExpInc = true
			a.lastGainInc = false
		}
	}

	if next == s {
		return s, AtLimit
	}
	return next, verdict
}

// factor is target/mean bounded by MaxFactor. A step that reverses the
// previous direction uses the square root to avoid oscillating.
func (a *Adjuster) factor(mean float64, reversed bool) float64 {
	maxF := a.cfg.MaxFactor
	f := maxF
	if mean > 0 {
		f = a.cfg.Target / mean
	}
	f = math.Max(1/maxF, math.Min(maxF, f))
	if reversed {
		f = math.Sqrt(f)
	}
	return f
}

func (a *Adjuster) clampExposure(e float64) float64 {
	if a.limits.MinExposure > 0 {
		e = math.Max(a.limits.MinExposure, e)
	}
	if a.limits.MaxExposure > 0 {
		e = math.Min(a.limits.MaxExposure, e)
	}
	return e
}

func (a *Adjuster) MaxTries() int {
	if a.cfg.MaxTries <= 0 {
		return DefaultMaxTries
	}
	return a.cfg.MaxTries
}
