package market

import (
	"fmt"
	"strings"
	"time"
)

var periods = map[string]time.Duration{
	"MINUTE":    time.Minute,
	"MINUTE_5":  5 * time.Minute,
	"MINUTE_15": 15 * time.Minute,
	"MINUTE_30": 30 * time.Minute,
	"HOUR":      time.Hour,
	"HOUR_4":    4 * time.Hour,
	"DAY":       24 * time.Hour,
	"WEEK":      7 * 24 * time.Hour,

	"M1":  time.Minute,
	"M5":  5 * time.Minute,
	"M15": 15 * time.Minute,
	"M30": 30 * time.Minute,
	"H1":  time.Hour,
	"H4":  4 * time.Hour,
	"D":   24 * time.Hour,
	"D1":  24 * time.Hour,
	"W":   7 * 24 * time.Hour,
	"W1":  7 * 24 * time.Hour,
}

// PeriodDuration maps a period name (HOUR, MINUTE_15) or timeframe string
// (H1, M15) to its length.
func PeriodDuration(period string) (time.Duration, error) {
	d, ok := periods[strings.ToUpper(strings.TrimSpace(period))]
	if !ok {
		return 0, fmt.Errorf("unsupported period %q", period)
	}
	return d, nil
}
