package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/repository"
	"github.com/notifyd/notifyd/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.Notification, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	GetAttempts(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
	Cancel(ctx context.Context, id string) error
	StatusCounts(ctx context.Context) (map[domain.Status]int64, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SubmitNotification)
	// Registered before the :id routes so "stats" is not read as an id.
	v1.Get("/notifications/stats", h.GetNotificationStats)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/attempts", h.GetNotificationAttempts)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Get("/notifications", h.ListNotifications)

	return nil
}

type submitNotificationRequest struct {
	Channel   string            `json:"channel"`
	Category  string            `json:"category"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables"`
	Priority  *int              `json:"priority,omitempty"`
	Prefs     *recipientPrefs   `json:"preferences,omitempty"`
}

type recipientPrefs struct {
	Timezone   string `json:"timezone"`
	QuietStart string `json:"quietStart"`
	QuietEnd   string `json:"quietEnd"`
}

type notificationResponse struct {
	ID            string     `json:"id"`
	Channel       string     `json:"channel"`
	Category      string     `json:"category"`
	Recipient     string     `json:"recipient"`
	Template      string     `json:"template"`
	Subject       string     `json:"subject,omitempty"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	Provider      string     `json:"provider,omitempty"`
	ProviderMsgID string     `json:"providerMsgId,omitempty"`
	AttemptCount  int        `json:"attemptCount"`
	MaxAttempts   int        `json:"maxAttempts"`
	LastError     string     `json:"lastError,omitempty"`
	ErrorKind     string     `json:"errorKind,omitempty"`
	NotBefore     *time.Time `json:"notBefore,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	OpenedAt      *time.Time `json:"openedAt,omitempty"`
	ClickedAt     *time.Time `json:"clickedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	Provider      string    `json:"provider"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	Error         *string   `json:"error,omitempty"`
	LatencyMillis int64     `json:"latencyMillis"`
	CreatedAt     time.Time `json:"createdAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) SubmitNotification(c *fiber.Ctx) error {
	var req submitNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	submit := service.SubmitRequest{
		Channel:   req.Channel,
		Category:  req.Category,
		Recipient: req.Recipient,
		Template:  req.Template,
		Variables: req.Variables,
		Priority:  req.Priority,
	}
	if req.Prefs != nil {
		submit.Prefs = domain.RecipientPrefs{
			Timezone:   req.Prefs.Timezone,
			QuietStart: req.Prefs.QuietStart,
			QuietEnd:   req.Prefs.QuietEnd,
		}
	}

	n, err := h.service.Submit(c.Context(), submit)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(n))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	n, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(n))
}

func (h *NotificationHandler) GetNotificationAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.service.GetAttempts(c.Context(), id)
	if err != nil {
		return err
	}

	responses := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		responses = append(responses, attemptResponse{
			ID:            a.ID,
			AttemptNumber: a.AttemptNumber,
			Provider:      a.Provider,
			StatusCode:    a.StatusCode,
			ResponseBody:  a.ResponseBody,
			Error:         a.Error,
			LatencyMillis: a.LatencyMillis,
			CreatedAt:     a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"attempts":       responses,
	})
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.StatusFailed.String(),
		"errorKind":      domain.ErrorKindCancelled.String(),
	})
}

func (h *NotificationHandler) GetNotificationStats(c *fiber.Ctx) error {
	counts, err := h.service.StatusCounts(c.Context())
	if err != nil {
		return err
	}

	byStatus := make(map[string]int64, len(counts))
	var total int64
	for status, count := range counts {
		byStatus[status.String()] = count
		total += count
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"total":    total,
		"statuses": byStatus,
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	if rawCategory := strings.TrimSpace(c.Query("category")); rawCategory != "" {
		category, err := domain.ParseCategoryFromString(rawCategory)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Category = &category
	}

	if recipient := strings.TrimSpace(c.Query("recipient")); recipient != "" {
		params.Recipient = &recipient
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:            n.ID,
		Channel:       n.Channel.String(),
		Category:      n.Category.String(),
		Recipient:     n.Recipient,
		Template:      n.TemplateName,
		Subject:       n.Subject,
		Status:        n.Status.String(),
		Priority:      n.Priority,
		Provider:      n.Provider,
		ProviderMsgID: n.ProviderMsgID,
		AttemptCount:  n.AttemptCount,
		MaxAttempts:   n.MaxAttempts,
		LastError:     n.LastError,
		ErrorKind:     n.ErrorKind.String(),
		NotBefore:     n.NotBefore,
		SentAt:        n.SentAt,
		DeliveredAt:   n.DeliveredAt,
		OpenedAt:      n.OpenedAt,
		ClickedAt:     n.ClickedAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}
