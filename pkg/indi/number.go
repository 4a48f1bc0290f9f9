package indi

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNumber parses an INDI number: plain decimal or sexagesimal
// ("-12:30:15", "12 30", "12;30").
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if !strings.ContainsAny(s, ": ;") {
		return strconv.ParseFloat(s, 64)
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ' ' || r == ';'
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid sexagesimal %q", s)
	}
	negative := strings.HasPrefix(fields[0], "-")
	var value float64
	div := 1.0
	for _, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimPrefix(f, "-"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sexagesimal %q: %w", s, err)
		}
		value += n / div
		div *= 60
	}
	if negative {
		value = -value
	}
	return value, nil
}
