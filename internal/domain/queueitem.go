package domain

import "time"

// QueueItem is a lease-able reference to a Notification awaiting delivery.
// A claimed item is invisible to other workers until acknowledged or its
// lease expires; expiry makes a crashed worker's claim reclaimable.
type QueueItem struct {
	ID             string
	NotificationID string
	Channel        Channel
	Priority       int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	AttemptID      string
	CreatedAt      time.Time
}
