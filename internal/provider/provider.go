package provider

import "context"

// Message is the rendered payload handed to a channel provider.
type Message struct {
	To      string
	Channel string
	Subject string
	Body    string
}

// Result stores provider call metadata for audit and persistence.
type Result struct {
	StatusCode int
	Body       string
	MessageID  string
}

// Provider is the outbound delivery port. Implementations must classify
// their own failures into a DeliveryError so the dispatcher never needs
// provider-specific knowledge.
type Provider interface {
	Name() string
	Deliver(ctx context.Context, msg Message) (*Result, error)
}
