package registry

import (
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		CoolDown:         5 * time.Minute,
		MaxCoolDown:      20 * time.Minute,
	}
}

func TestBreakerTripsAfterThresholdConsecutiveFailures(t *testing.T) {
	t.Parallel()

	br := newBreaker(testBreakerConfig())
	now := time.Unix(1_700_000_000, 0)

	br.onFailure(now)
	br.onFailure(now)
	if state, _ := br.snapshot(now); state != domain.CircuitClosed {
		t.Fatalf("state = %s, want closed before threshold", state)
	}

	br.onFailure(now)
	state, openUntil := br.snapshot(now)
	if state != domain.CircuitOpen {
		t.Fatalf("state = %s, want open after %d failures", state, testBreakerConfig().FailureThreshold)
	}
	if openUntil == nil || !openUntil.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("openUntil = %v, want now+5m", openUntil)
	}
	if br.acquire(now) {
		t.Fatal("acquire should be denied while open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	br := newBreaker(testBreakerConfig())
	now := time.Unix(1_700_000_000, 0)

	br.onFailure(now)
	br.onFailure(now)
	br.onSuccess(now)
	br.onFailure(now)
	br.onFailure(now)

	if state, _ := br.snapshot(now); state != domain.CircuitClosed {
		t.Fatalf("state = %s, want closed: success must reset the counter", state)
	}
}

func TestBreakerHalfOpenAllowsExactlyOneProbe(t *testing.T) {
	t.Parallel()

	br := newBreaker(testBreakerConfig())
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		br.onFailure(now)
	}

	afterCoolDown := now.Add(5*time.Minute + time.Second)
	if !br.acquire(afterCoolDown) {
		t.Fatal("first acquire after cool-down should be allowed")
	}
	if state, _ := br.snapshot(afterCoolDown); state != domain.CircuitHalfOpen {
		t.Fatalf("state = %s, want half_open", state)
	}
	// Concurrent acquires while the probe is in flight are denied.
	if br.acquire(afterCoolDown) {
		t.Fatal("second acquire during probe should be denied")
	}
}

func TestBreakerProbeSuccessClosesAndResets(t *testing.T) {
	t.Parallel()

	br := newBreaker(testBreakerConfig())
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		br.onFailure(now)
	}

	probeAt := now.Add(6 * time.Minute)
	if !br.acquire(probeAt) {
		t.Fatal("probe acquire should be allowed")
	}
	br.onSuccess(probeAt)

	if state, _ := br.snapshot(probeAt); state != domain.CircuitClosed {
		t.Fatalf("state = %s, want closed after successful probe", state)
	}
	if br.consecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d, want 0", br.consecutiveFailures)
	}
	if br.coolDown != 5*time.Minute {
		t.Fatalf("coolDown = %s, want reset to base", br.coolDown)
	}
}

func TestBreakerProbeFailureDoublesCoolDownUpToCap(t *testing.T) {
	t.Parallel()

	br := newBreaker(testBreakerConfig())
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		br.onFailure(now)
	}

	wantCoolDowns := []time.Duration{
		10 * time.Minute,
		20 * time.Minute,
		20 * time.Minute, // capped
	}
	probeAt := now
	for i, want := range wantCoolDowns {
		probeAt = probeAt.Add(br.coolDown + time.Second)
		if !br.acquire(probeAt) {
			t.Fatalf("trip %d: probe acquire should be allowed", i+1)
		}
		br.onFailure(probeAt)

		state, openUntil := br.snapshot(probeAt)
		if state != domain.CircuitOpen {
			t.Fatalf("trip %d: state = %s, want open", i+1, state)
		}
		if br.coolDown != want {
			t.Fatalf("trip %d: coolDown = %s, want %s", i+1, br.coolDown, want)
		}
		if openUntil == nil || !openUntil.Equal(probeAt.Add(want)) {
			t.Fatalf("trip %d: openUntil = %v, want probe+%s", i+1, openUntil, want)
		}
	}
}

func TestBreakerReleaseFreesProbeSlot(t *testing.T) {
	t.Parallel()

	br := newBreaker(testBreakerConfig())
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		br.onFailure(now)
	}

	probeAt := now.Add(6 * time.Minute)
	if !br.acquire(probeAt) {
		t.Fatal("probe acquire should be allowed")
	}
	br.release()
	if !br.acquire(probeAt) {
		t.Fatal("acquire after release should be allowed")
	}
}
