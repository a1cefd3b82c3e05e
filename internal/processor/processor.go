// Package processor drains the delivery queue in bounded batches: claim,
// render, send, record. Entries are isolated from each other: one bad
// template or provider rejection never stalls the rest of the batch.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailqueue/internal/audit"
	"mailqueue/internal/metrics"
	"mailqueue/internal/models"
	"mailqueue/internal/provider"
	"mailqueue/internal/store"
	"mailqueue/internal/template"
)

// Summary reports one batch. Informational only: re-invocation is the
// trigger's decision, never the processor's.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

type Processor struct {
	queue     store.Queue
	templates store.Templates
	configs   store.ProviderConfigs
	factory   provider.Factory
	audit     *audit.Logger
	limiter   *rate.Limiter
	log       *zap.Logger

	maxAttempts int
	sendTimeout time.Duration
}

func New(
	queue store.Queue,
	templates store.Templates,
	configs store.ProviderConfigs,
	factory provider.Factory,
	auditLog *audit.Logger,
	limiter *rate.Limiter,
	log *zap.Logger,
	maxAttempts int,
	sendTimeout time.Duration,
) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Processor{
		queue:       queue,
		templates:   templates,
		configs:     configs,
		factory:     factory,
		audit:       auditLog,
		limiter:     limiter,
		log:         log,
		maxAttempts: maxAttempts,
		sendTimeout: sendTimeout,
	}
}

// ProcessBatch claims up to limit pending entries (priority first, oldest
// first within a band) and attempts delivery for each. The active provider
// configuration is resolved once per batch and never cached across batches,
// so a config change applies on the next tick.
func (p *Processor) ProcessBatch(ctx context.Context, limit int) (Summary, error) {
	var summary Summary

	entries, err := p.queue.Claim(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("claim batch: %w", err)
	}
	if len(entries) == 0 {
		return summary, nil
	}

	d, configErr := p.resolveSender(ctx)

	for _, entry := range entries {
		sent, err := p.processOne(ctx, entry, d, configErr)
		if err != nil {
			// Context-level abort. Unprocessed claims return to pending
			// through the stale-claim sweep.
			p.log.Warn("batch interrupted",
				zap.Int("processed", summary.Processed),
				zap.Int("claimed", len(entries)),
				zap.Error(err),
			)
			return summary, err
		}
		summary.Processed++
		if sent {
			summary.Sent++
		} else {
			summary.Failed++
		}
	}

	p.log.Info("batch complete",
		zap.Int("processed", summary.Processed),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// delivery is the per-batch resolution of the active provider.
type delivery struct {
	sender provider.Sender
	name   string
	from   string
}

// resolveSender reads the active configuration and builds the adapter.
// Absence of a configuration is a reportable per-entry failure, not a crash:
// the batch still completes and the trigger retries on its own schedule.
func (p *Processor) resolveSender(ctx context.Context) (*delivery, string) {
	cfg, err := p.configs.Active(ctx)
	switch {
	case errors.Is(err, store.ErrNoActiveProvider):
		return nil, "NoProviderConfigured"
	case err != nil:
		return nil, fmt.Sprintf("resolve provider config: %v", err)
	}

	sender, err := p.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Sprintf("provider %s: %v", cfg.Name, err)
	}
	return &delivery{sender: sender, name: cfg.Name, from: cfg.From}, ""
}

func (p *Processor) processOne(ctx context.Context, entry *models.QueueEntry, d *delivery, configErr string) (bool, error) {
	subject, body := entry.Subject, entry.HTMLContent

	if entry.TemplateID != "" {
		tmpl, err := p.templates.GetByID(ctx, entry.TemplateID)
		if err != nil {
			reason := fmt.Sprintf("template lookup: %v", err)
			if errors.Is(err, store.ErrNotFound) {
				reason = fmt.Sprintf("TemplateNotFound: %s", entry.TemplateID)
			}
			p.fail(ctx, entry, d, reason)
			return false, nil
		}

		if missing := template.Unresolved(tmpl, entry.TemplateData); len(missing) > 0 {
			// Kept behavior: missing variables render as empty strings.
			// Loud here so a mistyped name does not silently blank content.
			metrics.UnresolvedVariables.Add(float64(len(missing)))
			p.log.Warn("unresolved template variables",
				zap.String("entry_id", entry.ID.String()),
				zap.String("template_id", entry.TemplateID),
				zap.Strings("variables", missing),
			)
		}

		rendered := template.Render(tmpl, entry.TemplateData)
		subject, body = rendered.Subject, rendered.Body
	}

	if d == nil {
		p.fail(ctx, entry, nil, configErr)
		return false, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}

	metrics.QueueLag.Observe(time.Since(entry.CreatedAt).Seconds())
	p.audit.Record(ctx, entry.ID, models.ActionSendAttempted, d.name, "")

	callCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	err := d.sender.Send(callCtx, &provider.Message{
		From:     d.from,
		To:       entry.Recipient,
		Subject:  subject,
		HTMLBody: body,
	})
	cancel()

	if err != nil {
		p.fail(ctx, entry, d, err.Error())
		return false, nil
	}

	if err := p.queue.MarkSent(ctx, entry.ID); err != nil {
		p.log.Error("mark sent failed",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
	}
	p.audit.Record(ctx, entry.ID, models.ActionSendSucceeded, d.name, "")
	metrics.EmailsSent.Inc()

	p.log.Info("email sent",
		zap.String("entry_id", entry.ID.String()),
		zap.String("recipient", entry.Recipient),
		zap.String("provider", d.name),
	)
	return true, nil
}

// fail records one failed attempt. The store decides between retry and the
// terminal state based on the attempt budget.
func (p *Processor) fail(ctx context.Context, entry *models.QueueEntry, d *delivery, reason string) {
	providerName := ""
	if d != nil {
		providerName = d.name
	}

	if err := p.queue.MarkFailed(ctx, entry.ID, reason, p.maxAttempts); err != nil {
		p.log.Error("mark failed failed",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
	}
	p.audit.Record(ctx, entry.ID, models.ActionSendFailed, providerName, reason)
	metrics.SendFailures.Inc()

	terminal := entry.Attempts+1 >= p.maxAttempts
	if terminal {
		metrics.TerminalFailures.Inc()
	}

	p.log.Error("email send failed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("recipient", entry.Recipient),
		zap.String("reason", reason),
		zap.Int("attempts", entry.Attempts+1),
		zap.Bool("terminal", terminal),
	)
}
