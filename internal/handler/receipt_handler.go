package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyd/notifyd/internal/service"
)

type ReceiptService interface {
	Apply(ctx context.Context, receipt service.Receipt) error
}

type ReceiptHandler struct {
	service ReceiptService
}

func NewReceiptHandler(service ReceiptService) (*ReceiptHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("receipt service is required")
	}
	return &ReceiptHandler{service: service}, nil
}

func RegisterReceiptRoutes(router fiber.Router, service ReceiptService) error {
	h, err := NewReceiptHandler(service)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/receipts", h.ApplyReceipt)
	return nil
}

type receiptRequest struct {
	NotificationID    string     `json:"notificationId"`
	ProviderMessageID string     `json:"providerMessageId"`
	Event             string     `json:"event"`
	Reason            string     `json:"reason,omitempty"`
	OccurredAt        *time.Time `json:"occurredAt,omitempty"`
}

func (h *ReceiptHandler) ApplyReceipt(c *fiber.Ctx) error {
	var req receiptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event, err := service.ParseReceiptEventFromString(req.Event)
	if err != nil {
		return err
	}

	receipt := service.Receipt{
		NotificationID:    req.NotificationID,
		ProviderMessageID: req.ProviderMessageID,
		Event:             event,
		Reason:            req.Reason,
		OccurredAt:        req.OccurredAt,
	}
	if err := h.service.Apply(c.Context(), receipt); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": req.NotificationID,
		"event":          string(event),
	})
}
