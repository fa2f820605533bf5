package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RecipientPrefs carries the recipient settings the scheduler consults.
// QuietStart/QuietEnd are "HH:MM" wall-clock times in Timezone; an empty
// pair means no quiet hours are configured.
type RecipientPrefs struct {
	Timezone   string
	QuietStart string
	QuietEnd   string
}

// HasQuietHours reports whether the recipient configured a quiet window.
func (p RecipientPrefs) HasQuietHours() bool {
	return strings.TrimSpace(p.QuietStart) != "" && strings.TrimSpace(p.QuietEnd) != ""
}

// ParseClock parses an "HH:MM" string into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid clock time %q", ErrValidation, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid clock hour %q", ErrValidation, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid clock minute %q", ErrValidation, s)
	}
	return hour, minute, nil
}
