package timemod

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

var ref = time.Date(2025, 8, 27, 10, 34, 56, 789, time.UTC) // a Wednesday

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"empty", "", ref},
		{"now", "now", ref},
		{"minus-minutes", "-60m", ref.Add(-60 * time.Minute)},
		{"plus-default-sign", "5s", ref.Add(5 * time.Second)},
		{"snap-minute", "@m", time.Date(2025, 8, 27, 10, 34, 0, 0, time.UTC)},
		{"offset-then-snap", "-60m@m", time.Date(2025, 8, 27, 9, 34, 0, 0, time.UTC)},
		{"snap-day", "@d", time.Date(2025, 8, 27, 0, 0, 0, 0, time.UTC)},
		{"snap-day-plus-hours", "@d+8h", time.Date(2025, 8, 27, 8, 0, 0, 0, time.UTC)},
		{"now-prefix", "now-1h@h", time.Date(2025, 8, 27, 9, 0, 0, 0, time.UTC)},
		{"snap-week-monday", "@w", time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)},
		{"snap-week-sunday", "@w0", time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC)},
		{"snap-week-wednesday", "@w3", time.Date(2025, 8, 27, 0, 0, 0, 0, time.UTC)},
		{"snap-month", "@mon", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{"snap-quarter", "@q", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"snap-year", "@y", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"weeks", "-2w", ref.AddDate(0, 0, -14)},
		{"days-long-unit", "-3DAYS", ref.AddDate(0, 0, -3)},
		{"mixed-case-unit", "-1Hour@Day", time.Date(2025, 8, 27, 0, 0, 0, 0, time.UTC)},
		{"months", "-1mon@d", time.Date(2025, 7, 27, 0, 0, 0, 0, time.UTC)},
		{"chain", "-1d@d+9h30m", time.Date(2025, 8, 26, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.expr, ref)
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.expr, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Resolve(%q)=%v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestResolveInvalid(t *testing.T) {
	for _, expr := range []string{"-1x", "@", "@fortnight", "--1h", "1", "h", "-1h@", "soon",
		"-3000000h", "-9223372036854775808s", "99999999999999999999m", "+20000y", "-4000000d"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Resolve(expr, ref)
			if !errors.Is(err, ErrInvalidTimeExpression) {
				t.Fatalf("Resolve(%q) error=%v, want ErrInvalidTimeExpression", expr, err)
			}
			var exprErr *ExpressionError
			if !errors.As(err, &exprErr) || exprErr.Expr != expr {
				t.Fatalf("expected ExpressionError quoting %q, got %v", expr, err)
			}
		})
	}
}

func TestLargeOffsetsInRange(t *testing.T) {
	got, err := Resolve("-2000000h", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := ref.Add(-2000000 * time.Hour); !got.Equal(want) {
		t.Fatalf("Resolve(-2000000h) = %v, want %v", got, want)
	}
	if _, err := Resolve("-9999y", ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMonthOffsetClampsDay(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	got, err := Resolve("+1mon", jan31)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	got, _ = Resolve("-1y", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	if want := time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSnapIsIdempotent(t *testing.T) {
	for _, expr := range []string{"@s", "@m", "@h", "@d", "@w", "@w5", "@mon", "@q", "@y", "@h@m", "@d@h"} {
		once, err := Resolve(expr, ref)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", expr, err)
		}
		twice, _ := Resolve(expr, once)
		if !once.Equal(twice) {
			t.Fatalf("%q not idempotent: once=%v twice=%v", expr, once, twice)
		}
	}
}

func TestSegmentOrderMatters(t *testing.T) {
	a, _ := Resolve("-1h@d", ref)
	b, _ := Resolve("@d-1h", ref)
	if a.Equal(b) {
		t.Fatalf("-1h@d and @d-1h should differ, both %v", a)
	}

	// Across a daylight-saving change hour offsets and hour snaps do not
	// commute. Lord Howe falls back 30 minutes at 15:00 UTC on 2025-04-05.
	loc, err := time.LoadLocation("Australia/Lord_Howe")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	at := time.Date(2025, 4, 5, 15, 20, 0, 0, time.UTC).In(loc)
	x, _ := Resolve("-1h@h", at)
	y, _ := Resolve("@h-1h", at)
	if x.Equal(y) {
		t.Fatalf("-1h@h and @h-1h should differ at %v, both %v", at, x)
	}
	if want := time.Date(2025, 4, 5, 14, 0, 0, 0, time.UTC); !x.Equal(want) {
		t.Fatalf("-1h@h=%v, want %v", x.UTC(), want)
	}
	if want := time.Date(2025, 4, 5, 13, 30, 0, 0, time.UTC); !y.Equal(want) {
		t.Fatalf("@h-1h=%v, want %v", y.UTC(), want)
	}
}

func TestParseAbsolute(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", "2025-08-30T15:04:05Z", time.Date(2025, 8, 30, 15, 4, 5, 0, time.UTC)},
		{"date-only", "2025-08-01", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{"date-time-space", "2025-08-01 07:30", time.Date(2025, 8, 1, 7, 30, 0, 0, time.UTC)},
		{"clock-today", "10:00", time.Date(2025, 8, 27, 10, 0, 0, 0, time.UTC)},
		{"clock-seconds", "08:15:30", time.Date(2025, 8, 27, 8, 15, 30, 0, time.UTC)},
		{"epoch-seconds", "1700000000", time.Unix(1700000000, 0)},
		{"epoch-millis", "1700000000123", time.UnixMilli(1700000000123)},
		{"relative", "@d", time.Date(2025, 8, 27, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in, ref)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if _, err := Parse("yesterday-ish", ref); !errors.Is(err, ErrInvalidTimeExpression) {
		t.Fatalf("expected ErrInvalidTimeExpression, got %v", err)
	}
}

func TestResolveWindow(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		wantStart time.Time
		wantStop  time.Time
		wantErr   error
	}{
		{"defaults", "@d", "now", time.Date(2025, 8, 27, 0, 0, 0, 0, time.UTC), ref, nil},
		{"last-24h", "-24h", "", ref.Add(-24 * time.Hour), ref, nil},
		{"equal-bounds", "@h", "@h", time.Date(2025, 8, 27, 10, 0, 0, 0, time.UTC), time.Date(2025, 8, 27, 10, 0, 0, 0, time.UTC), nil},
		{"start-after-end", "now", "-1h", time.Time{}, time.Time{}, ErrInvalidWindow},
		{"bad-start", "-1x", "now", time.Time{}, time.Time{}, ErrInvalidTimeExpression},
		{"bad-end", "@d", "whenever", time.Time{}, time.Time{}, ErrInvalidTimeExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ResolveWindow(tt.start, tt.end, ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error=%v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !w.Start.Equal(tt.wantStart) || !w.Stop.Equal(tt.wantStop) {
				t.Fatalf("window=[%v,%v], want [%v,%v]", w.Start, w.Stop, tt.wantStart, tt.wantStop)
			}
			if w.Duration() < 0 {
				t.Fatalf("negative duration %v", w.Duration())
			}
		})
	}
}
