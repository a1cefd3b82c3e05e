// Package provider translates a generic send request into a specific email
// provider's API call. One implementation per provider; selection happens at
// runtime from the active configuration. Adapters send exactly once; retry
// policy belongs to the processor.
package provider

import (
	"context"
	"fmt"
	"strings"

	"mailqueue/internal/models"
)

// Message is the provider-agnostic send request.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// Sender delivers one message. Implementations must be safe for concurrent
// use and must honor ctx cancellation and deadlines.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// DeliveryError is the uniform failure shape surfaced to the processor.
// Provider-specific error bodies are flattened into Reason.
type DeliveryError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Factory builds a Sender from the active configuration. The processor calls
// it once per batch so configuration changes apply on the next tick.
type Factory func(ctx context.Context, cfg *models.ProviderConfig) (Sender, error)

// FromConfig is the default Factory covering the supported providers.
func FromConfig(ctx context.Context, cfg *models.ProviderConfig) (Sender, error) {
	switch strings.ToLower(cfg.Name) {
	case "mailgun":
		return NewMailgun(cfg)
	case "postmark":
		return NewPostmark(cfg)
	case "smtp":
		return NewSMTP(cfg)
	case "ses":
		return NewSES(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
