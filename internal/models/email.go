package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	// StatusProcessing marks an entry claimed by a running batch. It is an
	// internal in-flight marker; API responses report it as pending.
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Public maps the internal claim marker back to pending for external readers.
func (s Status) Public() Status {
	if s == StatusProcessing {
		return StatusPending
	}
	return s
}

// Priority levels. Any integer is accepted; ordering is numeric descending.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// QueueEntry is one durable email send request and its processing state.
// Created only by the enqueue gateway, mutated only by the processor.
type QueueEntry struct {
	ID          uuid.UUID `json:"id"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject,omitempty"`
	HTMLContent string    `json:"html_content,omitempty"`

	// TemplateID defers rendering to process time, so template edits still
	// apply to entries that have not been sent yet.
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`

	Priority     int            `json:"priority"`
	Status       Status         `json:"status"`
	Attempts     int            `json:"attempts"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// Template is a named subject/body pair with {{variable}} placeholders.
// Managed externally; read-only here.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type AuditAction string

const (
	ActionQueued        AuditAction = "queued"
	ActionSendAttempted AuditAction = "send_attempted"
	ActionSendSucceeded AuditAction = "send_succeeded"
	ActionSendFailed    AuditAction = "send_failed"
)

// AuditRecord is one immutable fact about an entry. Append-only.
type AuditRecord struct {
	ID        uuid.UUID   `json:"id"`
	EntryID   uuid.UUID   `json:"entry_id"`
	Action    AuditAction `json:"action"`
	Provider  string      `json:"provider,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ProviderConfig selects and parameterizes one delivery provider.
// Exactly one config is expected to be active at a time.
type ProviderConfig struct {
	Name     string            `json:"name"`
	Active   bool              `json:"active"`
	From     string            `json:"from"`
	Settings map[string]string `json:"settings,omitempty"`
}
