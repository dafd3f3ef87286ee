package pager

import (
	"fmt"
	"strings"
	"time"

	"github.com/zero-network/txexporter/pkg/explorer"
)

// DateLayout is the accepted date format for window bounds.
const DateLayout = "2006-01-02"

// Window is an inclusive UTC time range. A nil bound is open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// ParseWindow parses YYYY-MM-DD bounds. Empty or "none" leaves the bound open.
// Start is midnight, end is 23:59:59 of the given day.
func ParseWindow(start, end string) (Window, error) {
	var w Window
	if s, ok := boundValue(start); ok {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Window{}, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", start)
		}
		w.Start = &t
	}
	if s, ok := boundValue(end); ok {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Window{}, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", end)
		}
		t = t.Add(24*time.Hour - time.Second)
		w.End = &t
	}
	if w.Start != nil && w.End != nil && w.End.Before(*w.Start) {
		return Window{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return w, nil
}

func boundValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return "", false
	}
	return s, true
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.Start == nil && w.End == nil
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

// Filter keeps the transfers inside the window. With any bound set, unparsable timestamps are dropped.
func (w Window) Filter(in []explorer.Transfer) []explorer.Transfer {
	if w.IsZero() {
		return in
	}
	out := make([]explorer.Transfer, 0, len(in))
	for _, tx := range in {
		ts, err := tx.Time()
		if err != nil {
			continue
		}
		if w.Contains(ts) {
			out = append(out, tx)
		}
	}
	return out
}

// String renders the window for log lines, e.g. "from 2025-02-01 to 2025-04-05".
func (w Window) String() string {
	switch {
	case w.Start != nil && w.End != nil:
		return fmt.Sprintf("from %s to %s", w.Start.Format(DateLayout), w.End.Format(DateLayout))
	case w.Start != nil:
		return "from " + w.Start.Format(DateLayout)
	case w.End != nil:
		return "until " + w.End.Format(DateLayout)
	default:
		return "all dates"
	}
}
