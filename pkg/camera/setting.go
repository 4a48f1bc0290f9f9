package camera

import (
	"fmt"

	"go.uber.org/zap"

	"qhy5-indi/pkg/indi"
	"qhy5-indi/pkg/types"
	"qhy5-indi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("camera")
}

// Apply pushes gain, offset and binning. The first element of CCD_GAIN and
// CCD_OFFSET is used whatever the driver calls it; binning sets both axes.
func (c *CCD) Apply(s types.Settings) error {
	msgs := []struct {
		vector *indi.Vector
		values []indi.NumberValue
	}{
		{c.gain, []indi.NumberValue{{Name: c.gain.Elements[0].Name, Value: float64(s.Gain)}}},
		{c.offset, []indi.NumberValue{{Name: c.offset.Elements[0].Name, Value: float64(s.Offset)}}},
		{c.binning, []indi.NumberValue{
			{Name: c.binning.Elements[0].Name, Value: float64(s.Binning)},
			{Name: c.binning.Elements[1].Name, Value: float64(s.Binning)},
		}},
	}
	for _, m := range msgs {
		if err := c.client.SendNumber(c.name, m.vector.Name, m.values...); err != nil {
			return fmt.Errorf("set %s: %w", m.vector.Name, err)
		}
	}
	logger.Debugf("%s: applied %s", c.name, s)

	return nil
}

// DefaultLimits are the QHY5L-II mono ranges: gain 1..29, offset up to 512
// (+100 raises the floor by about 25 ADU).
func DefaultLimits() types.Limits {
	return types.Limits{
		MinGain:     1,
		MaxGain:     29,
		MinOffset:   0,
		MaxOffset:   512,
		MinExposure: 0.0001,
		MaxExposure: 60,
	}
}

// ClampLimits narrows l to the exposure range advertised by the driver.
func ClampLimits(l types.Limits, lo, hi float64) types.Limits {
	if lo > 0 && lo > l.MinExposure {
		l.MinExposure = lo
	}
	if hi > 0 && hi < l.MaxExposure {
		l.MaxExposure = hi
	}
	return l
}
