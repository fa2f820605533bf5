package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/repository"
	"github.com/notifyd/notifyd/internal/service"
	"github.com/notifyd/notifyd/internal/transport"
	"go.uber.org/zap"
)

type stubNotificationService struct {
	submitFn      func(ctx context.Context, req service.SubmitRequest) (*domain.Notification, error)
	getFn         func(ctx context.Context, id string) (*domain.Notification, error)
	listFn        func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	getAttemptsFn func(ctx context.Context, id string) ([]domain.DeliveryAttempt, error)
	cancelFn      func(ctx context.Context, id string) error
	countsFn      func(ctx context.Context) (map[domain.Status]int64, error)
}

func (s *stubNotificationService) Submit(ctx context.Context, req service.SubmitRequest) (*domain.Notification, error) {
	if s.submitFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.submitFn(ctx, req)
}

func (s *stubNotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if s.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.getFn(ctx, id)
}

func (s *stubNotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if s.listFn == nil {
		return nil, 0, nil
	}
	return s.listFn(ctx, params)
}

func (s *stubNotificationService) GetAttempts(ctx context.Context, id string) ([]domain.DeliveryAttempt, error) {
	if s.getAttemptsFn == nil {
		return nil, nil
	}
	return s.getAttemptsFn(ctx, id)
}

func (s *stubNotificationService) Cancel(ctx context.Context, id string) error {
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(ctx, id)
}

func (s *stubNotificationService) StatusCounts(ctx context.Context) (map[domain.Status]int64, error) {
	if s.countsFn == nil {
		return nil, nil
	}
	return s.countsFn(ctx)
}

func newTestApp(t *testing.T, svc NotificationService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterNotificationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, []byte) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body error = %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestSubmitNotificationHandler(t *testing.T) {
	t.Parallel()

	var gotReq service.SubmitRequest
	svc := &stubNotificationService{
		submitFn: func(_ context.Context, req service.SubmitRequest) (*domain.Notification, error) {
			gotReq = req
			notBefore := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			return &domain.Notification{
				ID:        "n-1",
				Channel:   domain.ChannelEmail,
				Category:  domain.CategoryTransactional,
				Recipient: req.Recipient,
				Status:    domain.StatusScheduled,
				Priority:  2,
				NotBefore: &notBefore,
			}, nil
		},
	}

	app := newTestApp(t, svc)

	body := `{
		"channel": "email",
		"category": "transactional",
		"recipient": "user@example.com",
		"template": "order-shipped",
		"variables": {"order": "123"},
		"preferences": {"timezone": "Europe/Istanbul", "quietStart": "22:00", "quietEnd": "07:00"}
	}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/notifications", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, respBody)
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["id"] != "n-1" {
		t.Fatalf("id = %v", parsed["id"])
	}
	if parsed["status"] != "scheduled" {
		t.Fatalf("status = %v, want scheduled", parsed["status"])
	}

	if gotReq.Template != "order-shipped" {
		t.Fatalf("template = %q", gotReq.Template)
	}
	if gotReq.Prefs.Timezone != "Europe/Istanbul" {
		t.Fatalf("prefs.timezone = %q", gotReq.Prefs.Timezone)
	}
}

func TestSubmitNotificationValidationStatus(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		submitFn: func(context.Context, service.SubmitRequest) (*domain.Notification, error) {
			return nil, fmt.Errorf("%w: invalid channel", domain.ErrValidation)
		},
	}
	app := newTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications", `{"channel":"fax"}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications", `{not-json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestGetNotificationHandler(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		getFn: func(_ context.Context, id string) (*domain.Notification, error) {
			if id != "n-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Notification{ID: "n-1", Channel: domain.ChannelEmail, Status: domain.StatusSent}, nil
		},
	}
	app := newTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/n-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListNotificationsHandlerFilters(t *testing.T) {
	t.Parallel()

	var gotParams repository.ListParams
	svc := &stubNotificationService{
		listFn: func(_ context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
			gotParams = params
			return []domain.Notification{{ID: "n-1", Channel: domain.ChannelEmail, Status: domain.StatusSent}}, 1, nil
		},
	}
	app := newTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications?status=sent&channel=email&page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	if gotParams.Status == nil || *gotParams.Status != domain.StatusSent {
		t.Fatalf("status filter = %v", gotParams.Status)
	}
	if gotParams.Channel == nil || *gotParams.Channel != domain.ChannelEmail {
		t.Fatalf("channel filter = %v", gotParams.Channel)
	}
	if gotParams.Page != 2 || gotParams.PageSize != 10 {
		t.Fatalf("pagination = %d/%d", gotParams.Page, gotParams.PageSize)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications?status=bogus", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for invalid status filter", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications?pageSize=1000", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for oversized pageSize", resp.StatusCode)
	}
}

func TestNotificationStatsHandler(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		countsFn: func(context.Context) (map[domain.Status]int64, error) {
			return map[domain.Status]int64{
				domain.StatusScheduled: 2,
				domain.StatusSent:      5,
				domain.StatusFailed:    1,
			}, nil
		},
	}
	app := newTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		Total    int64            `json:"total"`
		Statuses map[string]int64 `json:"statuses"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Total != 8 {
		t.Fatalf("total = %d, want 8", parsed.Total)
	}
	if parsed.Statuses["sent"] != 5 {
		t.Fatalf("sent = %d, want 5", parsed.Statuses["sent"])
	}
}

func TestCancelNotificationHandler(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		cancelFn: func(_ context.Context, id string) error {
			if id == "done" {
				return domain.ErrConflict
			}
			return nil
		},
	}
	app := newTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications/n-1/cancel", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/done/cancel", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for terminal notification", resp.StatusCode)
	}
}

type stubReceiptService struct {
	applied []service.Receipt
}

func (s *stubReceiptService) Apply(_ context.Context, receipt service.Receipt) error {
	s.applied = append(s.applied, receipt)
	return nil
}

func TestReceiptHandler(t *testing.T) {
	t.Parallel()

	svc := &stubReceiptService{}
	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterReceiptRoutes(app, svc); err != nil {
		t.Fatalf("RegisterReceiptRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodPost, "/v1/receipts",
		`{"notificationId":"n-1","event":"delivered"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	if len(svc.applied) != 1 || svc.applied[0].Event != service.ReceiptDelivered {
		t.Fatalf("applied = %+v", svc.applied)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/receipts",
		`{"notificationId":"n-1","event":"landed"}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for unknown event", resp.StatusCode)
	}
}

type stubOpsService struct {
	toggles []string
}

func (*stubOpsService) QueueDepth(context.Context) (map[domain.Channel]int64, error) {
	return map[domain.Channel]int64{
		domain.ChannelEmail: 3,
		domain.ChannelSMS:   1,
		domain.ChannelPush:  0,
	}, nil
}

func (*stubOpsService) ProviderHealth() []domain.ProviderState {
	return []domain.ProviderState{
		{Name: "sendgrid", Channel: domain.ChannelEmail, Enabled: true, Priority: 2, Circuit: domain.CircuitClosed},
		{Name: "ses", Channel: domain.ChannelEmail, Enabled: true, Priority: 1, Circuit: domain.CircuitOpen},
	}
}

func (s *stubOpsService) SetProviderEnabled(_ context.Context, name string, channel domain.Channel, enabled bool) error {
	s.toggles = append(s.toggles, fmt.Sprintf("%s/%s=%t", channel, name, enabled))
	return nil
}

func TestOpsHandlers(t *testing.T) {
	t.Parallel()

	ops := &stubOpsService{}
	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterOpsRoutes(app, ops); err != nil {
		t.Fatalf("RegisterOpsRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/queue/depth", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var depth struct {
		Total    int64            `json:"total"`
		Channels map[string]int64 `json:"channels"`
	}
	if err := json.Unmarshal(body, &depth); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if depth.Total != 4 {
		t.Fatalf("total = %d, want 4", depth.Total)
	}
	if depth.Channels["email"] != 3 {
		t.Fatalf("email depth = %d, want 3", depth.Channels["email"])
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/providers", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var providers struct {
		Providers []providerStateResponse `json:"providers"`
	}
	if err := json.Unmarshal(body, &providers); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(providers.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(providers.Providers))
	}
	if providers.Providers[1].Circuit != "open" {
		t.Fatalf("circuit = %q, want open", providers.Providers[1].Circuit)
	}

	resp, _ = performRequest(t, app, http.MethodPatch, "/v1/providers/email/ses", `{"enabled":false}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(ops.toggles) != 1 || ops.toggles[0] != "email/ses=false" {
		t.Fatalf("toggles = %v", ops.toggles)
	}

	resp, _ = performRequest(t, app, http.MethodPatch, "/v1/providers/email/ses", `{}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 when enabled is missing", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPatch, "/v1/providers/fax/ses", `{"enabled":true}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for unknown channel", resp.StatusCode)
	}
}
