package chat

import (
	"fmt"
	"time"
)

// SameDay reports whether two instants fall on the same calendar day in
// local time. Used to detect date-divider boundaries in the stream.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// FormatTime renders a message timestamp relative to now for recent
// messages, falling back to clock time.
func FormatTime(ts, now time.Time) string {
	if ts.IsZero() {
		return ""
	}
	minutes := int(now.Sub(ts).Minutes())
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	}
	return ts.Local().Format("3:04 PM")
}

// FormatDate renders a date-divider label: Today, Yesterday, or the full
// date.
func FormatDate(ts, now time.Time) string {
	if ts.IsZero() {
		return ""
	}
	if SameDay(ts, now) {
		return "Today"
	}
	if SameDay(ts, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return ts.Local().Format("January 2, 2006")
}
