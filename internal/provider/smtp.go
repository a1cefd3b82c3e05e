package provider

import (
	"context"
	"fmt"
	"strconv"

	"gopkg.in/gomail.v2"

	"mailqueue/internal/models"
)

// SMTP sends through a plain SMTP relay.
// Settings: host, port, optional username and password.
type SMTP struct {
	dialer *gomail.Dialer
}

func NewSMTP(cfg *models.ProviderConfig) (*SMTP, error) {
	host := cfg.Settings["host"]
	if host == "" {
		return nil, fmt.Errorf("smtp config requires host")
	}

	port := 25
	if p := cfg.Settings["port"]; p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("smtp port %q: %w", p, err)
		}
		port = n
	}

	dialer := gomail.NewDialer(host, port, cfg.Settings["username"], cfg.Settings["password"])
	return &SMTP{dialer: dialer}, nil
}

func (s *SMTP) Name() string { return "smtp" }

// Send runs the blocking dial in a goroutine so the processor's per-call
// deadline holds even when the relay hangs. gomail has no ctx support.
func (s *SMTP) Send(ctx context.Context, msg *Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return &DeliveryError{Provider: "smtp", Reason: ctx.Err().Error(), Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return &DeliveryError{Provider: "smtp", Reason: err.Error(), Err: err}
		}
		return nil
	}
}
