package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/notifyd/notifyd/internal/domain"
)

// Limiter is the token-bucket gate consulted before every delivery attempt.
// A false result is a scheduling signal, never an error: the caller defers
// the attempt instead of failing it.
type Limiter interface {
	TryAcquire(ctx context.Context, key string, cost int) (bool, error)
}

// ProviderKey builds the bucket key protecting a provider's published rate.
func ProviderKey(provider string) string {
	return "provider:" + strings.ToLower(strings.TrimSpace(provider))
}

// RecipientKey builds the bucket key protecting a recipient from being
// flooded on one channel.
func RecipientKey(channel domain.Channel, recipient string) string {
	return fmt.Sprintf("recipient:%s:%s", channel, strings.ToLower(strings.TrimSpace(recipient)))
}

// IsRecipientKey reports which scope a bucket key belongs to, for metrics.
func IsRecipientKey(key string) bool {
	return strings.HasPrefix(key, "recipient:")
}
