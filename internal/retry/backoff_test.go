package retry

import (
	"testing"
	"time"
)

func TestScheduleMatchesDeterministicFormula(t *testing.T) {
	// With {retries: 3, factor: base, exponent_base: 2}, reconnect
	// attempts occur at t = base*2, base*4, base*8.
	base := 10 * time.Millisecond
	s := NewSchedule(Strategy{Retries: 3, Factor: base, ExponentBase: 2})

	want := []time.Duration{base * 2, base * 4, base * 8}
	for i, w := range want {
		d, exhausted := s.Next()
		if exhausted {
			t.Fatalf("attempt %d: unexpectedly exhausted", i)
		}
		if d != w {
			t.Fatalf("attempt %d: delay = %v, want %v", i, d, w)
		}
	}

	if _, exhausted := s.Next(); !exhausted {
		t.Fatal("expected exhaustion after 3 attempts")
	}
}

func TestScheduleResetsAttemptCounter(t *testing.T) {
	s := NewSchedule(Strategy{Retries: 1, Factor: time.Millisecond, ExponentBase: 2})
	if _, exhausted := s.Next(); exhausted {
		t.Fatal("first attempt should not be exhausted")
	}
	if _, exhausted := s.Next(); !exhausted {
		t.Fatal("second attempt should be exhausted")
	}
	s.Reset()
	if _, exhausted := s.Next(); exhausted {
		t.Fatal("attempt after reset should not be exhausted")
	}
}
