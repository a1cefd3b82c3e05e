package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"mailqueue/internal/models"
)

const mailgunDefaultBaseURL = "https://api.mailgun.net"

// Mailgun sends through the Mailgun messages API.
// Settings: domain, api_key, optional base_url (EU region, tests).
type Mailgun struct {
	client *resty.Client
	domain string
}

func NewMailgun(cfg *models.ProviderConfig) (*Mailgun, error) {
	domain := cfg.Settings["domain"]
	apiKey := cfg.Settings["api_key"]
	if domain == "" || apiKey == "" {
		return nil, fmt.Errorf("mailgun config requires domain and api_key")
	}

	baseURL := cfg.Settings["base_url"]
	if baseURL == "" {
		baseURL = mailgunDefaultBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth("api", apiKey)

	return &Mailgun{client: client, domain: domain}, nil
}

func (m *Mailgun) Name() string { return "mailgun" }

func (m *Mailgun) Send(ctx context.Context, msg *Message) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"from":    msg.From,
			"to":      msg.To,
			"subject": msg.Subject,
			"html":    msg.HTMLBody,
		}).
		Post(fmt.Sprintf("/v3/%s/messages", m.domain))
	if err != nil {
		return &DeliveryError{Provider: "mailgun", Reason: err.Error(), Err: err}
	}
	if resp.IsError() {
		reason := strings.TrimSpace(string(resp.Body()))
		if reason == "" {
			reason = resp.Status()
		}
		return &DeliveryError{
			Provider: "mailgun",
			Reason:   fmt.Sprintf("status %d: %s", resp.StatusCode(), reason),
		}
	}
	return nil
}
