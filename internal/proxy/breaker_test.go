package proxy

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, cooldown)
	b.now = clk.now
	return b, clk
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow: %v", err)
		}
		b.Failure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s after 2 failures", b.State())
	}

	// A success in between resets the run.
	_ = b.Allow()
	b.Success()
	for i := 0; i < 2; i++ {
		_ = b.Allow()
		b.Failure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, success should have reset the count", b.State())
	}

	_ = b.Allow()
	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1, 30*time.Second)
	_ = b.Allow()
	b.Failure()

	clk.advance(29 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow before cooldown = %v", err)
	}

	clk.advance(time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent probe admitted")
	}

	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s after successful probe", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(1, 10*time.Second)
	_ = b.Allow()
	b.Failure()

	clk.advance(10 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.Failure()

	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	clk.advance(5 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Error("cooldown should restart after a failed probe")
	}
}

func TestBreaker_AbandonReleasesProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	_ = b.Allow()
	b.Failure()
	clk.advance(time.Second)

	_ = b.Allow()
	b.Abandon()
	if err := b.Allow(); err != nil {
		t.Errorf("probe slot not released: %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	for s, want := range map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
		BreakerState(9): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
