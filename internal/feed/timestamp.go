package feed

import (
	"strings"
	"time"
)

// BusTime reports local wall-clock time without a zone, e.g. "20200827 11:51".
var busTimeLayouts = []string{
	"20060102 15:04",
	"20060102 15:04:05",
}

// parseReportedAt interprets a feed timestamp. BusTime layouts are read in loc,
// RFC 3339 carries its own offset. Anything else yields the zero time; the raw
// text is still kept on the vehicle.
func parseReportedAt(text string, loc *time.Location) time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}
	}
	for _, layout := range busTimeLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t
		}
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t
	}
	return time.Time{}
}
