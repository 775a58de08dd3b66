package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(threshold, time.Minute).WithClock(clock.now), clock
}

var errBoom = errors.New("boom")

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	if !b.Allow("stripe") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("stripe")
	if b.Allow("stripe") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("stripe") != StateOpen {
		t.Fatalf("expected open, got %v", b.State("stripe"))
	}
	if !b.Allow("sandbox") {
		t.Fatal("other keys must be unaffected")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.RecordFailure("stripe")

	clock.advance(59 * time.Second)
	if b.Allow("stripe") {
		t.Fatal("should stay open during cooldown")
	}

	clock.advance(time.Second)
	if !b.Allow("stripe") {
		t.Fatal("should admit a probe after cooldown")
	}
	if b.Allow("stripe") {
		t.Fatal("only one probe may be in flight")
	}

	b.RecordSuccess("stripe")
	if b.State("stripe") != StateClosed {
		t.Fatalf("expected closed after successful probe, got %v", b.State("stripe"))
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	clock.advance(time.Minute)

	if !b.Allow("stripe") {
		t.Fatal("expected probe")
	}
	b.RecordFailure("stripe")
	if b.State("stripe") != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State("stripe"))
	}
	if b.Allow("stripe") {
		t.Fatal("cooldown should restart after failed probe")
	}
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(2)
	errIgnored := errors.New("bad request")
	countable := func(err error) bool { return !errors.Is(err, errIgnored) }

	for i := 0; i < 5; i++ {
		if err := b.Do("stripe", countable, func() error { return errIgnored }); !errors.Is(err, errIgnored) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if b.State("stripe") != StateClosed {
		t.Fatal("non-countable errors must not trip the breaker")
	}

	_ = b.Do("stripe", countable, func() error { return errBoom })
	_ = b.Do("stripe", countable, func() error { return errBoom })

	called := false
	err := b.Do("stripe", countable, func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("expected ErrOpen without calling fn, got %v (called=%v)", err, called)
	}
}

func TestBreaker_RecordsTransitions(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("metrics-key", "closed", "open"))

	b, _ := newTestBreaker(1)
	b.RecordFailure("metrics-key")

	after := testutil.ToFloat64(transitions.WithLabelValues("metrics-key", "closed", "open"))
	if after-before != 1 {
		t.Fatalf("expected one closed->open transition, got %v", after-before)
	}
}
