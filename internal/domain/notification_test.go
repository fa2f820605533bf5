package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestStatusTerminalNeverAdvances(t *testing.T) {
	t.Parallel()

	terminals := []Status{StatusDelivered, StatusBounced, StatusFailed, StatusSuppressed}
	all := []Status{
		StatusQueued, StatusScheduled, StatusInFlight, StatusRetryWait,
		StatusSent, StatusDelivered, StatusBounced, StatusFailed, StatusSuppressed,
	}

	for _, from := range terminals {
		if !from.IsTerminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to Status }{
		{StatusQueued, StatusScheduled},
		{StatusQueued, StatusSuppressed},
		{StatusScheduled, StatusInFlight},
		{StatusScheduled, StatusFailed},
		{StatusInFlight, StatusSent},
		{StatusInFlight, StatusRetryWait},
		{StatusInFlight, StatusFailed},
		{StatusRetryWait, StatusInFlight},
		{StatusRetryWait, StatusFailed},
		{StatusSent, StatusDelivered},
		{StatusSent, StatusBounced},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("transition %s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusSent, StatusQueued},
		{StatusSent, StatusFailed},
		{StatusInFlight, StatusScheduled},
		{StatusQueued, StatusSent},
		{StatusRetryWait, StatusSent},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("transition %s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	ch, err := ParseChannelFromString("  EMAIL ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() error = %v", err)
	}
	if ch != ChannelEmail {
		t.Fatalf("channel = %s, want email", ch)
	}

	if _, err := ParseChannelFromString("fax"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestCategoryPolicyFlags(t *testing.T) {
	t.Parallel()

	for _, c := range []Category{CategoryTransactional, CategorySystem, CategorySecurity} {
		if !c.IsUrgent() {
			t.Fatalf("%s should be urgent", c)
		}
	}
	if CategoryMarketing.IsUrgent() {
		t.Fatal("marketing should not be urgent")
	}
	if !CategoryDigest.IsBatched() {
		t.Fatal("digest should be batched")
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := Notification{
		Channel:      ChannelEmail,
		Category:     CategoryTransactional,
		Recipient:    "user@example.com",
		TemplateName: "welcome",
		Body:         "hello",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	badEmail := valid
	badEmail.Recipient = "not-an-address"
	if err := badEmail.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed email: error = %v, want ErrValidation", err)
	}

	longSMS := Notification{
		Channel:      ChannelSMS,
		Category:     CategoryTransactional,
		Recipient:    "+15551112233",
		TemplateName: "otp",
		Body:         strings.Repeat("x", MaxSMSBody+1),
	}
	if err := longSMS.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("long sms: error = %v, want ErrValidation", err)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	h, m, err := ParseClock("22:00")
	if err != nil {
		t.Fatalf("ParseClock() error = %v", err)
	}
	if h != 22 || m != 0 {
		t.Fatalf("clock = %d:%d, want 22:00", h, m)
	}

	for _, bad := range []string{"", "25:00", "10:61", "abc"} {
		if _, _, err := ParseClock(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseClock(%q) error = %v, want ErrValidation", bad, err)
		}
	}
}
