package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyd/notifyd/internal/domain"
)

type OpsService interface {
	QueueDepth(ctx context.Context) (map[domain.Channel]int64, error)
	ProviderHealth() []domain.ProviderState
	SetProviderEnabled(ctx context.Context, name string, channel domain.Channel, enabled bool) error
}

type OpsHandler struct {
	service OpsService
}

func NewOpsHandler(service OpsService) (*OpsHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("ops service is required")
	}
	return &OpsHandler{service: service}, nil
}

func RegisterOpsRoutes(router fiber.Router, service OpsService) error {
	h, err := NewOpsHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/queue/depth", h.GetQueueDepth)
	v1.Get("/providers", h.GetProviders)
	v1.Patch("/providers/:channel/:name", h.SetProviderEnabled)

	return nil
}

type providerStateResponse struct {
	Name                string     `json:"name"`
	Channel             string     `json:"channel"`
	Enabled             bool       `json:"enabled"`
	Priority            int        `json:"priority"`
	Circuit             string     `json:"circuit"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	OpenUntil           *time.Time `json:"openUntil,omitempty"`
}

func (h *OpsHandler) GetQueueDepth(c *fiber.Ctx) error {
	depths, err := h.service.QueueDepth(c.Context())
	if err != nil {
		return err
	}

	byChannel := make(map[string]int64, len(depths))
	var total int64
	for channel, depth := range depths {
		byChannel[channel.String()] = depth
		total += depth
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"total":    total,
		"channels": byChannel,
	})
}

func (h *OpsHandler) GetProviders(c *fiber.Ctx) error {
	states := h.service.ProviderHealth()

	responses := make([]providerStateResponse, 0, len(states))
	for _, state := range states {
		responses = append(responses, providerStateResponse{
			Name:                state.Name,
			Channel:             state.Channel.String(),
			Enabled:             state.Enabled,
			Priority:            state.Priority,
			Circuit:             state.Circuit.String(),
			ConsecutiveFailures: state.ConsecutiveFailures,
			LastSuccessAt:       state.LastSuccessAt,
			LastFailureAt:       state.LastFailureAt,
			OpenUntil:           state.OpenUntil,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"providers": responses,
	})
}

type setProviderEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *OpsHandler) SetProviderEnabled(c *fiber.Ctx) error {
	channel, err := domain.ParseChannelFromString(c.Params("channel"))
	if err != nil {
		return err
	}
	name := strings.TrimSpace(c.Params("name"))
	if name == "" {
		return fmt.Errorf("%w: provider name is required", domain.ErrValidation)
	}

	var req setProviderEnabledRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Enabled == nil {
		return fmt.Errorf("%w: enabled is required", domain.ErrValidation)
	}

	if err := h.service.SetProviderEnabled(c.Context(), name, channel, *req.Enabled); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"name":    name,
		"channel": channel.String(),
		"enabled": *req.Enabled,
	})
}
