package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	policy, err := NewPolicy("0 */4 * * *")
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	return policy
}

func nightPrefs() domain.RecipientPrefs {
	return domain.RecipientPrefs{
		Timezone:   "Europe/Istanbul",
		QuietStart: "22:00",
		QuietEnd:   "07:00",
	}
}

func TestComputeNotBeforeQuietHoursDefersPastWindow(t *testing.T) {
	t.Parallel()

	policy := newTestPolicy(t)
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatalf("LoadLocation() error = %v", err)
	}

	// 23:00 local, inside the 22:00-07:00 window: defer to 07:00 next day.
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, loc)
	got, err := policy.ComputeNotBefore(nightPrefs(), domain.CategoryMarketing, now)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	want := time.Date(2026, 3, 11, 7, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("not_before = %s, want %s", got, want)
	}

	// 03:00 local, still inside: defer to 07:00 the same day.
	now = time.Date(2026, 3, 10, 3, 0, 0, 0, loc)
	got, err = policy.ComputeNotBefore(nightPrefs(), domain.CategoryMarketing, now)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	want = time.Date(2026, 3, 10, 7, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("not_before = %s, want %s", got, want)
	}

	// 12:00 local, outside: send now.
	now = time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	got, err = policy.ComputeNotBefore(nightPrefs(), domain.CategoryMarketing, now)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("not_before = %s, want now", got)
	}
}

func TestComputeNotBeforeUrgentBypassesQuietHours(t *testing.T) {
	t.Parallel()

	policy := newTestPolicy(t)
	loc, _ := time.LoadLocation("Europe/Istanbul")
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, loc)

	for _, category := range []domain.Category{domain.CategorySecurity, domain.CategorySystem, domain.CategoryTransactional} {
		got, err := policy.ComputeNotBefore(nightPrefs(), category, now)
		if err != nil {
			t.Fatalf("ComputeNotBefore(%s) error = %v", category, err)
		}
		if !got.Equal(now) {
			t.Fatalf("%s: not_before = %s, want now", category, got)
		}
	}
}

func TestComputeNotBeforeSameDayWindow(t *testing.T) {
	t.Parallel()

	policy := newTestPolicy(t)
	prefs := domain.RecipientPrefs{Timezone: "UTC", QuietStart: "12:00", QuietEnd: "14:00"}

	inside := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	got, err := policy.ComputeNotBefore(prefs, domain.CategoryMarketing, inside)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	want := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("not_before = %s, want %s", got, want)
	}

	outside := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	got, err = policy.ComputeNotBefore(prefs, domain.CategoryMarketing, outside)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	if !got.Equal(outside) {
		t.Fatalf("not_before = %s, want now", got)
	}
}

func TestComputeNotBeforeDigestBoundary(t *testing.T) {
	t.Parallel()

	policy := newTestPolicy(t)
	now := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)

	got, err := policy.ComputeNotBefore(domain.RecipientPrefs{}, domain.CategoryDigest, now)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	want := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("digest not_before = %s, want %s", got, want)
	}
}

func TestComputeNotBeforeNoQuietHours(t *testing.T) {
	t.Parallel()

	policy := newTestPolicy(t)
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	got, err := policy.ComputeNotBefore(domain.RecipientPrefs{}, domain.CategoryMarketing, now)
	if err != nil {
		t.Fatalf("ComputeNotBefore() error = %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("not_before = %s, want now", got)
	}
}

func TestComputeNotBeforeInvalidPrefs(t *testing.T) {
	t.Parallel()

	policy := newTestPolicy(t)
	now := time.Now()

	badTZ := domain.RecipientPrefs{Timezone: "Mars/Olympus", QuietStart: "22:00", QuietEnd: "07:00"}
	if _, err := policy.ComputeNotBefore(badTZ, domain.CategoryMarketing, now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad timezone: error = %v, want ErrValidation", err)
	}

	badClock := domain.RecipientPrefs{Timezone: "UTC", QuietStart: "25:00", QuietEnd: "07:00"}
	if _, err := policy.ComputeNotBefore(badClock, domain.CategoryMarketing, now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad clock: error = %v, want ErrValidation", err)
	}
}

func TestNewPolicyInvalidCron(t *testing.T) {
	t.Parallel()

	if _, err := NewPolicy("not a cron"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
