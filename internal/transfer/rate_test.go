package transfer

import (
	"testing"
	"time"
)

func TestRateMeter_SmoothsSamples(t *testing.T) {
	now := time.Unix(0, 0)
	m := &RateMeter{now: func() time.Time { return now }, lastSample: now}

	if got := m.Record(1000); got != 0 {
		t.Fatalf("speed before first interval=%v, want 0", got)
	}

	now = now.Add(time.Second)
	if got := m.Record(0); got != 1000 {
		t.Fatalf("first sample=%v, want 1000", got)
	}

	now = now.Add(time.Second)
	if got := m.Record(2000); got != 1000*0.7+2000*0.3 {
		t.Fatalf("smoothed=%v, want %v", got, 1000*0.7+2000*0.3)
	}
	if m.Speed() != 1300 {
		t.Fatalf("Speed=%v, want 1300", m.Speed())
	}
}

func TestProgress_Fraction(t *testing.T) {
	if f := (Progress{}).Fraction(); f != 1 {
		t.Fatalf("empty fraction=%v, want 1", f)
	}
	if f := (Progress{Done: 1, Total: 4}).Fraction(); f != 0.25 {
		t.Fatalf("fraction=%v, want 0.25", f)
	}
}
