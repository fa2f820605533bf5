package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRelayTimeout = 10 * time.Second

type relayRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// HTTPRelay delivers notifications through a JSON-over-HTTP relay endpoint.
// One relay instance maps to one registered provider.
type HTTPRelay struct {
	name     string
	client   *resty.Client
	endpoint string
}

func NewHTTPRelay(name, endpoint string) (*HTTPRelay, error) {
	client := resty.New()
	client.SetTimeout(defaultRelayTimeout)
	client.SetRetryCount(0)

	return NewHTTPRelayWithClient(name, endpoint, client)
}

func NewHTTPRelayWithClient(name, endpoint string, client *resty.Client) (*HTTPRelay, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return nil, fmt.Errorf("relay name is required")
	}

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("relay endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRelayTimeout)
	}
	// The dispatcher owns retries; the transport must not add its own.
	client.SetRetryCount(0)

	return &HTTPRelay{
		name:     trimmedName,
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPRelay) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

func (p *HTTPRelay) Deliver(ctx context.Context, msg Message) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("relay is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, &DeliveryError{
			Message: "message recipient is empty",
			Kind:    FailurePermanent,
		}
	}

	reqBody := relayRequest{
		To:      msg.To,
		Channel: strings.ToLower(msg.Channel),
		Subject: msg.Subject,
		Body:    msg.Body,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		kind := FailureRetryable
		if errors.Is(err, context.Canceled) {
			kind = FailurePermanent
		}
		return nil, &DeliveryError{
			Message: "relay request failed",
			Kind:    kind,
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{
			Message: "relay returned empty response",
			Kind:    FailureRetryable,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  relayMessageID(response),
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		Message:    relayErrorMessage(statusCode, responseBody),
		Kind:       classifyHTTPStatus(statusCode),
	}
}

func classifyHTTPStatus(statusCode int) FailureKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return FailureRateLimited
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		return FailureRetryable
	default:
		return FailurePermanent
	}
}

func relayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("relay returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func relayMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
