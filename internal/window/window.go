// Package window computes analysis and lookup time windows in the configured local timezone.
package window

import (
	"fmt"
	"time"

	"github.com/chat-analyzer-bot/internal/models"
)

// DefaultTimezone is used when no timezone is configured
const DefaultTimezone = "Asia/Novosibirsk"

// Span is the width of every window
const Span = 24 * time.Hour

// Window is a half-open UTC interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside [Start, End)
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// LoadLocation resolves the configured timezone, defaulting to DefaultTimezone
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
	}
	return loc, nil
}

// ForTimeOfDay anchors a 24h window so that it ends at tod on now's local date
// Local arithmetic happens first, conversion to UTC last
func ForTimeOfDay(now time.Time, tod models.TimeOfDay, loc *time.Location) Window {
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, tod.Second, 0, loc)
	start := end.Add(-Span)

	return Window{Start: start.UTC(), End: end.UTC()}
}

// Last24Hours is the window [now-24h, now) used for result lookups
func Last24Hours(now time.Time, loc *time.Location) Window {
	end := now.In(loc)
	return Window{Start: end.Add(-Span).UTC(), End: end.UTC()}
}
