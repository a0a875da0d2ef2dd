// Package timeutil formats times and durations for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is the layout for timestamps shown to the user.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// Local renders t in the local time zone.
func Local(t time.Time) string {
	return t.Local().Format(LocalTimeFormat)
}

// FormatUptime renders a Go duration string such as "72h30m15s" in the
// largest useful units, e.g. "3d 0h 30m 15s". Strings that do not parse
// come back unchanged.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	s := int64(d.Seconds())
	days, s := s/86400, s%86400
	hours, s := s/3600, s%3600
	minutes, seconds := s/60, s%60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
