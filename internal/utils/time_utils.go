package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
)

// "ms" must be tried before "m" and "s"
var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses values like "500ms", "10s", "5m", "48h" or "2d".
// Invalid input is logged and yields 0.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	for _, u := range timeUnits {
		cutString, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil || number < 0 {
			logger.ErrorF("Error parsing time string: %s", timeString)
			return 0
		}
		return time.Duration(number) * u.unit
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}

// ParseStringTimeOr is ParseStringTime with a fallback for empty or invalid
// values.
func ParseStringTimeOr(timeString string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(timeString) == "" {
		return fallback
	}
	if d := ParseStringTime(timeString); d > 0 {
		return d
	}
	return fallback
}
