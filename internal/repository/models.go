package repository

import (
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID            string            `gorm:"type:uuid;primaryKey"`
	Channel       domain.Channel    `gorm:"type:varchar(10);not null"`
	Category      domain.Category   `gorm:"type:varchar(20);not null"`
	Recipient     string            `gorm:"type:varchar(255);not null"`
	TemplateName  string            `gorm:"type:varchar(255);not null"`
	Variables     map[string]string `gorm:"type:jsonb;serializer:json"`
	Subject       string            `gorm:"type:text"`
	Body          string            `gorm:"type:text;not null"`
	Status        domain.Status     `gorm:"type:varchar(20);not null"`
	Priority      int               `gorm:"not null;default:1"`
	Provider      string            `gorm:"type:varchar(100)"`
	ProviderMsgID string            `gorm:"type:varchar(255)"`
	AttemptCount  int               `gorm:"not null;default:0"`
	MaxAttempts   int               `gorm:"not null;default:3"`
	LastError     string            `gorm:"type:text"`
	ErrorKind     domain.ErrorKind  `gorm:"type:varchar(40)"`
	Fingerprint   string            `gorm:"type:varchar(32)"`
	NotBefore     *time.Time        `gorm:"type:timestamptz"`
	SentAt        *time.Time        `gorm:"type:timestamptz"`
	DeliveredAt   *time.Time        `gorm:"type:timestamptz"`
	OpenedAt      *time.Time        `gorm:"type:timestamptz"`
	ClickedAt     *time.Time        `gorm:"type:timestamptz"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null"`
	AttemptNumber  int     `gorm:"not null"`
	Provider       string  `gorm:"type:varchar(100);not null"`
	StatusCode     *int    `gorm:"type:int"`
	ResponseBody   *string `gorm:"type:text"`
	Error          *string `gorm:"type:text"`
	LatencyMillis  int64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// ProviderConfigModel is the persistence model for provider_configs.
type ProviderConfigModel struct {
	Name       string         `gorm:"type:varchar(100);primaryKey"`
	Channel    domain.Channel `gorm:"type:varchar(10);primaryKey"`
	Endpoint   string         `gorm:"type:varchar(2048);not null"`
	Enabled    bool           `gorm:"not null;default:true"`
	Priority   int            `gorm:"not null;default:0"`
	RatePerSec float64        `gorm:"not null;default:10"`
	Burst      int            `gorm:"not null;default:10"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ProviderConfigModel) TableName() string {
	return "provider_configs"
}

// QueueItemModel is the persistence model for queue_items, the lease table
// the dispatcher claims work from.
type QueueItemModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	NotificationID string         `gorm:"type:uuid;not null;uniqueIndex:idx_queue_notification"`
	Channel        domain.Channel `gorm:"type:varchar(10);not null"`
	Priority       int            `gorm:"not null;default:1"`
	NextAttemptAt  time.Time      `gorm:"type:timestamptz;not null"`
	LeaseOwner     string         `gorm:"type:varchar(100)"`
	LeaseExpiresAt *time.Time     `gorm:"type:timestamptz"`
	// Empty until first claimed; claims stamp a fresh uuid.
	AttemptID string `gorm:"type:varchar(36);not null;default:''"`
	CreatedAt time.Time
}

func (QueueItemModel) TableName() string {
	return "queue_items"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:            n.ID,
		Channel:       n.Channel,
		Category:      n.Category,
		Recipient:     n.Recipient,
		TemplateName:  n.TemplateName,
		Variables:     n.Variables,
		Subject:       n.Subject,
		Body:          n.Body,
		Status:        n.Status,
		Priority:      n.Priority,
		Provider:      n.Provider,
		ProviderMsgID: n.ProviderMsgID,
		AttemptCount:  n.AttemptCount,
		MaxAttempts:   n.MaxAttempts,
		LastError:     n.LastError,
		ErrorKind:     n.ErrorKind,
		Fingerprint:   n.Fingerprint,
		NotBefore:     n.NotBefore,
		SentAt:        n.SentAt,
		DeliveredAt:   n.DeliveredAt,
		OpenedAt:      n.OpenedAt,
		ClickedAt:     n.ClickedAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:            m.ID,
		Channel:       m.Channel,
		Category:      m.Category,
		Recipient:     m.Recipient,
		TemplateName:  m.TemplateName,
		Variables:     m.Variables,
		Subject:       m.Subject,
		Body:          m.Body,
		Status:        m.Status,
		Priority:      m.Priority,
		Provider:      m.Provider,
		ProviderMsgID: m.ProviderMsgID,
		AttemptCount:  m.AttemptCount,
		MaxAttempts:   m.MaxAttempts,
		LastError:     m.LastError,
		ErrorKind:     m.ErrorKind,
		Fingerprint:   m.Fingerprint,
		NotBefore:     m.NotBefore,
		SentAt:        m.SentAt,
		DeliveredAt:   m.DeliveredAt,
		OpenedAt:      m.OpenedAt,
		ClickedAt:     m.ClickedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Provider:       a.Provider,
		StatusCode:     a.StatusCode,
		ResponseBody:   a.ResponseBody,
		Error:          a.Error,
		LatencyMillis:  a.LatencyMillis,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Provider:       m.Provider,
		StatusCode:     m.StatusCode,
		ResponseBody:   m.ResponseBody,
		Error:          m.Error,
		LatencyMillis:  m.LatencyMillis,
		CreatedAt:      m.CreatedAt,
	}
}

func providerConfigModelFromDomain(p *domain.ProviderConfig) *ProviderConfigModel {
	if p == nil {
		return nil
	}

	return &ProviderConfigModel{
		Name:       p.Name,
		Channel:    p.Channel,
		Endpoint:   p.Endpoint,
		Enabled:    p.Enabled,
		Priority:   p.Priority,
		RatePerSec: p.RatePerSec,
		Burst:      p.Burst,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func providerConfigModelToDomain(m *ProviderConfigModel) *domain.ProviderConfig {
	if m == nil {
		return nil
	}

	return &domain.ProviderConfig{
		Name:       m.Name,
		Channel:    m.Channel,
		Endpoint:   m.Endpoint,
		Enabled:    m.Enabled,
		Priority:   m.Priority,
		RatePerSec: m.RatePerSec,
		Burst:      m.Burst,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func queueItemModelFromDomain(q *domain.QueueItem) *QueueItemModel {
	if q == nil {
		return nil
	}

	return &QueueItemModel{
		ID:             q.ID,
		NotificationID: q.NotificationID,
		Channel:        q.Channel,
		Priority:       q.Priority,
		NextAttemptAt:  q.NextAttemptAt,
		LeaseOwner:     q.LeaseOwner,
		LeaseExpiresAt: q.LeaseExpiresAt,
		AttemptID:      q.AttemptID,
		CreatedAt:      q.CreatedAt,
	}
}

func queueItemModelToDomain(m *QueueItemModel) *domain.QueueItem {
	if m == nil {
		return nil
	}

	return &domain.QueueItem{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		Channel:        m.Channel,
		Priority:       m.Priority,
		NextAttemptAt:  m.NextAttemptAt,
		LeaseOwner:     m.LeaseOwner,
		LeaseExpiresAt: m.LeaseExpiresAt,
		AttemptID:      m.AttemptID,
		CreatedAt:      m.CreatedAt,
	}
}
