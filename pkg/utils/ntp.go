package utils

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// MaxClockOffset is the drift above which CheckClock warns; frame
// timestamps come from the local clock.
const MaxClockOffset = time.Second

// CheckClock queries server and returns the local clock offset.
func CheckClock(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, fmt.Errorf("ntp query %s: %w", server, err)
	}
	if err = resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp response from %s: %w", server, err)
	}
	offset := resp.ClockOffset
	if offset > MaxClockOffset || offset < -MaxClockOffset {
		logger.Warnf("system clock is off by %s (ntp %s)", offset, server)
	} else {
		logger.Infof("system clock offset %s (ntp %s)", offset, server)
	}

	return offset, nil
}
