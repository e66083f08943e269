package clock

import (
	"testing"
	"time"
)

func TestFormatMillisecondUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	in := time.Date(2026, 3, 9, 21, 4, 5, 123456789, loc)

	got := Format(in)
	want := "2026-03-10T00:04:05.123Z"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}

func TestFormatKeepsTrailingZeros(t *testing.T) {
	in := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := Format(in); got != "2026-01-02T03:04:05.000Z" {
		t.Fatalf("Format() = %q, want fixed three fractional digits", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	s := "2026-03-10T00:04:05.123Z"
	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	if back := Format(parsed); back != s {
		t.Fatalf("round-trip %q -> %q", s, back)
	}
}

func TestLexicographicOrderIsChronological(t *testing.T) {
	a := Format(time.Date(2026, 1, 2, 3, 4, 5, 999e6, time.UTC))
	b := Format(time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC))
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestStepperStrictlyIncreasing(t *testing.T) {
	c := NewStepper(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond).Clock()
	prev := c()
	for i := 0; i < 10; i++ {
		next := c()
		if !next.After(prev) {
			t.Fatalf("step %d not increasing: %v then %v", i, prev, next)
		}
		prev = next
	}
}

func TestFixed(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	c := Fixed(at)
	if c.Stamp() != "2026-05-06T07:08:09.000Z" {
		t.Fatalf("Stamp() = %q", c.Stamp())
	}
	if !c().Equal(at) {
		t.Fatalf("Fixed clock moved")
	}
}
