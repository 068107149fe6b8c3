package domain

import (
	"fmt"
	"time"
)

// TimestampLayout is the wall-clock format used in prompts, cache payloads
// and history responses.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t at second resolution.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a second-resolution wall-clock string.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

// Elapsed renders how long ago t was, relative to now, in the phrasing the
// persona uses when recalling memories.
func Elapsed(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d秒前", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d分钟前", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d小时前", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%d天前", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
