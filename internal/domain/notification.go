package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusScheduled  Status = "scheduled"
	StatusInFlight   Status = "in_flight"
	StatusRetryWait  Status = "retry_wait"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusBounced    Status = "bounced"
	StatusFailed     Status = "failed"
	StatusSuppressed Status = "suppressed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusScheduled, StatusInFlight, StatusRetryWait,
		StatusSent, StatusDelivered, StatusBounced, StatusFailed, StatusSuppressed:
		return true
	}
	return false
}

// IsTerminal reports whether a notification in this status will never move again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusBounced, StatusFailed, StatusSuppressed:
		return true
	}
	return false
}

// statusTransitions is the delivery state machine. A status may only advance
// to one of its listed successors; terminal statuses have none.
var statusTransitions = map[Status][]Status{
	StatusQueued:    {StatusScheduled, StatusFailed, StatusSuppressed},
	StatusScheduled: {StatusInFlight, StatusFailed},
	StatusInFlight:  {StatusSent, StatusRetryWait, StatusFailed},
	StatusRetryWait: {StatusInFlight, StatusFailed},
	StatusSent:      {StatusDelivered, StatusBounced},
}

// CanTransition reports whether from -> to is a legal move in the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Channels lists all supported delivery channels.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Category classifies a notification for scheduling policy.
type Category string

const (
	CategoryTransactional Category = "transactional"
	CategoryMarketing     Category = "marketing"
	CategorySystem        Category = "system"
	CategorySecurity      Category = "security"
	CategoryDigest        Category = "digest"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryTransactional, CategoryMarketing, CategorySystem, CategorySecurity, CategoryDigest:
		return true
	}
	return false
}

// IsUrgent reports whether the category bypasses quiet hours and digest
// windows. Security and system notifications never wait on a formatting
// preference.
func (c Category) IsUrgent() bool {
	switch c {
	case CategoryTransactional, CategorySystem, CategorySecurity:
		return true
	}
	return false
}

// IsBatched reports whether the category is delivered on digest boundaries.
func (c Category) IsBatched() bool { return c == CategoryDigest }

func ParseCategoryFromString(s string) (Category, error) {
	cat := Category(strings.ToLower(strings.TrimSpace(s)))
	if !cat.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return cat, nil
}

// DefaultPriority maps a category to its queue priority (higher = sooner).
func DefaultPriority(c Category) int {
	switch c {
	case CategorySecurity, CategorySystem:
		return 3
	case CategoryTransactional:
		return 2
	default:
		return 1
	}
}

// Body limits per channel (in characters).
const (
	MaxSMSBody   = 160
	MaxPushBody  = 240
	MaxEmailBody = 100000
)

// Notification is the durable unit of delivery work derived from a submission.
type Notification struct {
	ID            string
	Channel       Channel
	Category      Category
	Recipient     string
	TemplateName  string
	Variables     map[string]string
	Subject       string
	Body          string
	Status        Status
	Priority      int
	Provider      string
	ProviderMsgID string
	AttemptCount  int
	MaxAttempts   int
	LastError     string
	ErrorKind     ErrorKind
	Fingerprint   string
	NotBefore     *time.Time
	SentAt        *time.Time
	DeliveredAt   *time.Time
	OpenedAt      *time.Time
	ClickedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(n.TemplateName) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, n.Category)
	}

	if n.Channel == ChannelEmail && !strings.Contains(n.Recipient, "@") {
		return fmt.Errorf("%w: malformed email recipient %q", ErrValidation, n.Recipient)
	}

	bodyLen := len([]rune(n.Body))
	switch n.Channel {
	case ChannelSMS:
		if bodyLen > MaxSMSBody {
			return fmt.Errorf("%w: SMS body exceeds %d characters (got %d)", ErrValidation, MaxSMSBody, bodyLen)
		}
	case ChannelPush:
		if bodyLen > MaxPushBody {
			return fmt.Errorf("%w: push body exceeds %d characters (got %d)", ErrValidation, MaxPushBody, bodyLen)
		}
	case ChannelEmail:
		if bodyLen > MaxEmailBody {
			return fmt.Errorf("%w: email body exceeds %d characters (got %d)", ErrValidation, MaxEmailBody, bodyLen)
		}
	}

	return nil
}
