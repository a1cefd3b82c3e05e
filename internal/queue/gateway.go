// Package queue holds the enqueue gateway: the single privileged insertion
// point into the delivery queue. Callers hold no more trust than "may
// enqueue" and never write the queue table directly. Enqueue performs no
// network I/O, so calling flows (registration, ticket events) cannot time
// out on email delivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailqueue/internal/audit"
	"mailqueue/internal/csvparser"
	"mailqueue/internal/metrics"
	"mailqueue/internal/models"
	"mailqueue/internal/store"
)

var (
	ErrInvalidRecipient = errors.New("queue: invalid recipient address")

	// ErrInvalidContent: exactly one of {subject+htmlContent} or
	// {templateId+templateData} must be supplied.
	ErrInvalidContent = errors.New("queue: invalid content")
)

// EnqueueRequest is the gateway's input. Priority defaults to normal when nil.
type EnqueueRequest struct {
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	HTMLContent  string            `json:"html_content,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Priority     *int              `json:"priority,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

type Gateway struct {
	queue store.Queue
	audit *audit.Logger
	log   *zap.Logger
}

func NewGateway(q store.Queue, a *audit.Logger, log *zap.Logger) *Gateway {
	return &Gateway{queue: q, audit: a, log: log}
}

// Enqueue validates the request, inserts one pending entry and appends a
// "queued" audit record. Validation failures persist nothing.
func (g *Gateway) Enqueue(ctx context.Context, req *EnqueueRequest) (uuid.UUID, error) {
	recipient, err := validateRecipient(req.Recipient)
	if err != nil {
		return uuid.Nil, err
	}
	if err := validateContent(req); err != nil {
		return uuid.Nil, err
	}

	priority := models.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}

	entry := &models.QueueEntry{
		ID:           uuid.New(),
		Recipient:    recipient,
		Subject:      req.Subject,
		HTMLContent:  req.HTMLContent,
		TemplateID:   req.TemplateID,
		TemplateData: req.TemplateData,
		Priority:     priority,
		Status:       models.StatusPending,
		Metadata:     req.Metadata,
		CreatedAt:    time.Now(),
	}

	if err := g.queue.Insert(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue: %w", err)
	}

	g.audit.Record(ctx, entry.ID, models.ActionQueued, "", "")
	metrics.EmailsEnqueued.Inc()

	g.log.Info("entry enqueued",
		zap.String("entry_id", entry.ID.String()),
		zap.String("recipient", recipient),
		zap.Int("priority", priority),
	)

	return entry.ID, nil
}

// BroadcastResult reports a bulk enqueue.
type BroadcastResult struct {
	EntryIDs []uuid.UUID `json:"entry_ids"`
	Queued   int         `json:"queued"`
	Skipped  int         `json:"skipped"`
}

// EnqueueBroadcast inserts one templated entry per CSV recipient. Rows with
// invalid addresses are skipped and counted, not fatal: an admin broadcast
// should not abort on one bad row.
func (g *Gateway) EnqueueBroadcast(ctx context.Context, recipients []csvparser.Recipient, templateID string, priority int, metadata map[string]any) (*BroadcastResult, error) {
	if templateID == "" {
		return nil, ErrInvalidContent
	}

	result := &BroadcastResult{}
	for _, r := range recipients {
		id, err := g.Enqueue(ctx, &EnqueueRequest{
			Recipient:    r.Address,
			TemplateID:   templateID,
			TemplateData: r.Variables,
			Priority:     &priority,
			Metadata:     metadata,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidRecipient) {
				result.Skipped++
				g.log.Warn("broadcast row skipped",
					zap.String("recipient", r.Address),
					zap.Error(err),
				)
				continue
			}
			return result, err
		}
		result.EntryIDs = append(result.EntryIDs, id)
		result.Queued++
	}
	return result, nil
}

func validateRecipient(raw string) (string, error) {
	recipient := strings.TrimSpace(raw)
	if recipient == "" {
		return "", ErrInvalidRecipient
	}
	addr, err := mail.ParseAddress(recipient)
	if err != nil || addr.Address != recipient {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
	}
	return recipient, nil
}

func validateContent(req *EnqueueRequest) error {
	hasDirect := req.Subject != "" && req.HTMLContent != ""
	hasTemplate := req.TemplateID != ""

	if hasDirect == hasTemplate {
		return ErrInvalidContent
	}
	if hasTemplate && (req.Subject != "" || req.HTMLContent != "") {
		return ErrInvalidContent
	}
	if !hasTemplate && (req.Subject == "" || req.HTMLContent == "") {
		return ErrInvalidContent
	}
	return nil
}
