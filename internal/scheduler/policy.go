package scheduler

import (
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/robfig/cron/v3"
)

const defaultDigestCron = "0 */4 * * *"

// Policy computes the earliest permissible send time for a notification.
// Urgent categories always send now; digest categories wait for the next
// digest boundary; everything else defers past the recipient's quiet hours.
type Policy struct {
	digest cron.Schedule
}

func NewPolicy(digestCron string) (*Policy, error) {
	expr := digestCron
	if expr == "" {
		expr = defaultDigestCron
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid digest cron %q: %w", digestCron, err)
	}

	return &Policy{digest: schedule}, nil
}

// ComputeNotBefore returns when the notification may first be attempted.
// Malformed preferences (unknown timezone, bad clock strings) are reported
// as validation errors so they surface at submission time.
func (p *Policy) ComputeNotBefore(prefs domain.RecipientPrefs, category domain.Category, now time.Time) (time.Time, error) {
	if category.IsUrgent() {
		return now, nil
	}

	if category.IsBatched() {
		return p.digest.Next(now), nil
	}

	if !prefs.HasQuietHours() {
		return now, nil
	}

	loc := time.UTC
	if prefs.Timezone != "" {
		parsed, err := time.LoadLocation(prefs.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unknown timezone %q", domain.ErrValidation, prefs.Timezone)
		}
		loc = parsed
	}

	startHour, startMin, err := domain.ParseClock(prefs.QuietStart)
	if err != nil {
		return time.Time{}, err
	}
	endHour, endMin, err := domain.ParseClock(prefs.QuietEnd)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	start := startHour*60 + startMin
	end := endHour*60 + endMin

	if start == end {
		return now, nil
	}

	windowEnd := time.Date(local.Year(), local.Month(), local.Day(), endHour, endMin, 0, 0, loc)

	if start < end {
		// Same-day window, e.g. 12:00-14:00.
		if cur >= start && cur < end {
			return windowEnd, nil
		}
		return now, nil
	}

	// Window wraps midnight, e.g. 22:00-07:00.
	switch {
	case cur >= start:
		return windowEnd.AddDate(0, 0, 1), nil
	case cur < end:
		return windowEnd, nil
	default:
		return now, nil
	}
}
