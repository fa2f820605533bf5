package domain

import "time"

// DeliveryAttempt records a single provider call for a notification.
type DeliveryAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Provider       string
	StatusCode     *int
	ResponseBody   *string
	Error          *string
	LatencyMillis  int64
	CreatedAt      time.Time
}
