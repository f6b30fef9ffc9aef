package timemod

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// absoluteLayouts are tried in order when an expression is not a modifier chain.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// clockLayouts describe partial timestamps meaning "today at".
var clockLayouts = []string{"15:04:05", "15:04"}

// Parse resolves expr against reference, accepting either a modifier chain
// or a common absolute timestamp. Partial clock times such as "10:00" mean
// that time on the reference's date, in the reference's location.
func Parse(expr string, reference time.Time) (time.Time, error) {
	s := strings.TrimSpace(expr)
	t, relErr := Resolve(s, reference)
	if relErr == nil {
		return t, nil
	}
	loc := reference.Location()
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	for _, layout := range clockLayouts {
		if c, err := time.ParseInLocation(layout, s, loc); err == nil {
			y, m, d := reference.Date()
			return time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, loc), nil
		}
	}
	if len(s) >= 9 && isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			if len(s) >= 12 {
				return time.UnixMilli(n).In(loc), nil
			}
			return time.Unix(n, 0).In(loc), nil
		}
	}
	return time.Time{}, relErr
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Window is a closed query interval.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration { return w.Stop.Sub(w.Start) }

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.Stop.Format(time.RFC3339))
}

// ResolveWindow resolves both expressions against the same reference instant.
func ResolveWindow(startExpr, stopExpr string, reference time.Time) (Window, error) {
	start, err := Parse(startExpr, reference)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	stop, err := Parse(stopExpr, reference)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	if start.After(stop) {
		return Window{}, fmt.Errorf("%w: start %q (%s) is after end %q (%s)",
			ErrInvalidWindow, startExpr, start.Format(time.RFC3339), stopExpr, stop.Format(time.RFC3339))
	}
	return Window{Start: start, Stop: stop}, nil
}
