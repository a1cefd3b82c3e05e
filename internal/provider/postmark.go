package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"mailqueue/internal/models"
)

const postmarkDefaultBaseURL = "https://api.postmarkapp.com"

// Postmark sends through the Postmark /email API.
// Settings: server_token, optional base_url.
type Postmark struct {
	client *resty.Client
}

type postmarkRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func NewPostmark(cfg *models.ProviderConfig) (*Postmark, error) {
	token := cfg.Settings["server_token"]
	if token == "" {
		return nil, fmt.Errorf("postmark config requires server_token")
	}

	baseURL := cfg.Settings["base_url"]
	if baseURL == "" {
		baseURL = postmarkDefaultBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Postmark-Server-Token", token).
		SetHeader("Accept", "application/json")

	return &Postmark{client: client}, nil
}

func (p *Postmark) Name() string { return "postmark" }

func (p *Postmark) Send(ctx context.Context, msg *Message) error {
	var result postmarkResponse

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(&postmarkRequest{
			From:     msg.From,
			To:       msg.To,
			Subject:  msg.Subject,
			HTMLBody: msg.HTMLBody,
		}).
		SetResult(&result).
		SetError(&result).
		Post("/email")
	if err != nil {
		return &DeliveryError{Provider: "postmark", Reason: err.Error(), Err: err}
	}
	if resp.IsError() || result.ErrorCode != 0 {
		reason := result.Message
		if reason == "" {
			reason = resp.Status()
		}
		return &DeliveryError{
			Provider: "postmark",
			Reason:   fmt.Sprintf("error %d: %s", result.ErrorCode, reason),
		}
	}
	return nil
}
