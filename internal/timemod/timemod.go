// Package timemod resolves chainable relative time expressions such as
// "-60m@m", "@d+8h" or "now-1w@w" into absolute instants.
//
// An expression is a sequence of segments applied left to right. A segment
// is either an offset ("[+|-]<n><unit>") or a snap ("@<unit>") that truncates
// the instant down to the start of the containing unit.
package timemod

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTimeExpression reports an expression that could not be parsed.
	ErrInvalidTimeExpression = errors.New("invalid time expression")

	// ErrInvalidWindow reports a window whose start is after its stop.
	ErrInvalidWindow = errors.New("invalid time window")
)

// ExpressionError carries the offending expression and the reason it was rejected.
type ExpressionError struct {
	Expr   string
	Reason string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidTimeExpression, e.Expr, e.Reason)
}

func (e *ExpressionError) Unwrap() error { return ErrInvalidTimeExpression }

// Unit is a calendar or clock unit an expression can offset by or snap to.
type Unit int

const (
	Second Unit = iota
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
)

var unitNames = map[string]Unit{
	"s": Second, "sec": Second, "secs": Second, "second": Second, "seconds": Second,
	"m": Minute, "min": Minute, "mins": Minute, "minute": Minute, "minutes": Minute,
	"h": Hour, "hr": Hour, "hrs": Hour, "hour": Hour, "hours": Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "week": Week, "weeks": Week,
	"mon": Month, "month": Month, "months": Month,
	"q": Quarter, "qtr": Quarter, "quarter": Quarter, "quarters": Quarter,
	"y": Year, "yr": Year, "year": Year, "years": Year,
}

// maxAmount bounds offsets: clock units must fit a time.Duration, calendar
// units are kept within ten thousand years.
var maxAmount = map[Unit]int64{
	Second:  math.MaxInt64 / int64(time.Second),
	Minute:  math.MaxInt64 / int64(time.Minute),
	Hour:    math.MaxInt64 / int64(time.Hour),
	Day:     10000 * 366,
	Week:    10000 * 53,
	Month:   10000 * 12,
	Quarter: 10000 * 4,
	Year:    10000,
}

func (u Unit) String() string {
	switch u {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	case Quarter:
		return "quarter"
	case Year:
		return "year"
	}
	return "unit(" + strconv.Itoa(int(u)) + ")"
}

// Segment is one parsed step of an expression.
type Segment struct {
	Snap    bool
	Amount  int
	Unit    Unit
	Weekday time.Weekday // only for week snaps with an explicit day
	HasDay  bool
}

// Expression is a parsed, immutable chain of segments.
type Expression struct {
	raw      string
	segments []Segment
}

// String returns the source text of the expression.
func (e Expression) String() string { return e.raw }

// Segments returns a copy of the parsed segments.
func (e Expression) Segments() []Segment {
	return append([]Segment(nil), e.segments...)
}

// Compile parses expr without evaluating it. An empty expression and "now"
// compile to an expression with no segments.
func Compile(expr string) (Expression, error) {
	src := strings.TrimSpace(expr)
	rest := src
	if len(rest) >= 3 && strings.EqualFold(rest[:3], "now") {
		rest = rest[3:]
	}
	var segs []Segment
	for rest != "" {
		seg, n, err := parseSegment(rest)
		if err != nil {
			return Expression{}, &ExpressionError{Expr: expr, Reason: err.Error()}
		}
		segs = append(segs, seg)
		rest = rest[n:]
	}
	return Expression{raw: src, segments: segs}, nil
}

// parseSegment reads one segment from the head of s and returns it with the
// number of bytes consumed.
func parseSegment(s string) (Segment, int, error) {
	if s[0] == '@' {
		word, n := leadingLetters(s[1:])
		if word == "" {
			return Segment{}, 0, fmt.Errorf("snap at %q has no unit", s)
		}
		unit, ok := unitNames[strings.ToLower(word)]
		if !ok {
			return Segment{}, 0, fmt.Errorf("unknown unit %q", word)
		}
		seg := Segment{Snap: true, Unit: unit}
		consumed := 1 + n
		// @w0..@w6 snap to a specific weekday (0 = Sunday).
		if unit == Week && consumed < len(s) && s[consumed] >= '0' && s[consumed] <= '6' {
			seg.Weekday = time.Weekday(s[consumed] - '0')
			seg.HasDay = true
			consumed++
		}
		return seg, consumed, nil
	}

	i := 0
	sign := 1
	if s[0] == '+' || s[0] == '-' {
		if s[0] == '-' {
			sign = -1
		}
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return Segment{}, 0, fmt.Errorf("expected an amount at %q", s)
	}
	word, n := leadingLetters(s[i:])
	if word == "" {
		return Segment{}, 0, fmt.Errorf("offset %q has no unit", s[:i])
	}
	unit, ok := unitNames[strings.ToLower(word)]
	if !ok {
		return Segment{}, 0, fmt.Errorf("unknown unit %q", word)
	}
	amount, err := strconv.ParseInt(s[start:i], 10, 64)
	if err != nil || amount > maxAmount[unit] {
		return Segment{}, 0, fmt.Errorf("amount %q out of range for %s", s[start:i], unit)
	}
	return Segment{Amount: sign * int(amount), Unit: unit}, i + n, nil
}

func leadingLetters(s string) (string, int) {
	i := 0
	for i < len(s) && ((s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z')) {
		i++
	}
	return s[:i], i
}

// Eval applies the expression to reference.
func (e Expression) Eval(reference time.Time) time.Time {
	t := reference
	for _, seg := range e.segments {
		if seg.Snap {
			t = snap(t, seg)
		} else {
			t = offset(t, seg.Amount, seg.Unit)
		}
	}
	return t
}

// Resolve parses and evaluates a relative expression against reference.
func Resolve(expr string, reference time.Time) (time.Time, error) {
	e, err := Compile(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Eval(reference), nil
}

func offset(t time.Time, n int, u Unit) time.Time {
	switch u {
	case Second:
		return t.Add(time.Duration(n) * time.Second)
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case Week:
		return t.AddDate(0, 0, 7*n)
	case Month:
		return addMonths(t, n)
	case Quarter:
		return addMonths(t, 3*n)
	case Year:
		return addMonths(t, 12*n)
	}
	return t
}

// addMonths moves t by n calendar months, clamping the day to the last day
// of the target month.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func snap(t time.Time, seg Segment) time.Time {
	ns := time.Duration(t.Nanosecond())
	sec := time.Duration(t.Second()) * time.Second
	mins := time.Duration(t.Minute()) * time.Minute
	y, m, d := t.Date()
	loc := t.Location()

	switch seg.Unit {
	case Second:
		return t.Add(-ns)
	case Minute:
		return t.Add(-(sec + ns))
	case Hour:
		return t.Add(-(mins + sec + ns))
	case Day:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Week:
		target := time.Monday
		if seg.HasDay {
			target = seg.Weekday
		}
		back := (int(t.Weekday()) - int(target) + 7) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Quarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
	return t
}
