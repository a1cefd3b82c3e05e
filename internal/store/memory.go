package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailqueue/internal/models"
)

// Memory implements Queue, Templates, Audit and ProviderConfigs in process.
// It mirrors the Postgres transition rules exactly, which lets the processor
// and trigger tests exercise the claiming invariant without a database.
type Memory struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*models.QueueEntry
	claimedAt map[uuid.UUID]time.Time
	templates map[string]*models.Template
	audit     []*models.AuditRecord
	configs   []*models.ProviderConfig
}

func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[uuid.UUID]*models.QueueEntry),
		claimedAt: make(map[uuid.UUID]time.Time),
		templates: make(map[string]*models.Template),
	}
}

// PutTemplate registers a template, keyed by id and name.
func (m *Memory) PutTemplate(t *models.Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

// SetProviderConfig replaces the configuration set with a single config.
func (m *Memory) SetProviderConfig(cfg *models.ProviderConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == nil {
		m.configs = nil
		return
	}
	m.configs = []*models.ProviderConfig{cfg}
}

func (m *Memory) Insert(_ context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	cp.Status = models.StatusPending
	cp.Attempts = 0
	m.entries[cp.ID] = &cp
	return nil
}

func (m *Memory) Claim(_ context.Context, limit int) ([]*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}

	pending := make([]*models.QueueEntry, 0, limit)
	for _, e := range m.entries {
		if e.Status == models.StatusPending {
			pending = append(pending, e)
		}
	}
	sortEntries(pending)
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now()
	claimed := make([]*models.QueueEntry, 0, len(pending))
	for _, e := range pending {
		e.Status = models.StatusProcessing
		m.claimedAt[e.ID] = now
		cp := *e
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *Memory) MarkSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.Status != models.StatusProcessing {
		return ErrNotFound
	}
	now := time.Now()
	e.Status = models.StatusSent
	e.Attempts++
	e.ErrorMessage = ""
	e.LastAttemptAt = &now
	delete(m.claimedAt, id)
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.Status != models.StatusProcessing {
		return ErrNotFound
	}
	now := time.Now()
	e.Attempts++
	e.ErrorMessage = reason
	e.LastAttemptAt = &now
	if e.Attempts >= maxAttempts {
		e.Status = models.StatusFailed
	} else {
		e.Status = models.StatusPending
	}
	delete(m.claimedAt, id)
	return nil
}

func (m *Memory) ReleaseStale(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	released := 0
	for id, at := range m.claimedAt {
		if at.Before(cutoff) {
			if e, ok := m.entries[id]; ok && e.Status == models.StatusProcessing {
				e.Status = models.StatusPending
				released++
			}
			delete(m.claimedAt, id)
		}
	}
	return released, nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) List(_ context.Context, filter EntryFilter) ([]*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*models.QueueEntry
	for _, e := range m.entries {
		if filter.Status != nil && e.Status.Public() != *filter.Status {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortEntries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.templates[id]; ok {
		cp := *t
		return &cp, nil
	}
	// Fall through to name lookup; callers reference templates by id or name.
	for _, t := range m.templates {
		if strings.EqualFold(t.Name, id) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetByName(_ context.Context, name string) (*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.templates {
		if strings.EqualFold(t.Name, name) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Append(_ context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *Memory) ListByEntry(_ context.Context, entryID uuid.UUID) ([]*models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.AuditRecord
	for _, r := range m.audit {
		if r.EntryID == entryID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) Active(_ context.Context) (*models.ProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cfg := range m.configs {
		if cfg.Active {
			cp := *cfg
			return &cp, nil
		}
	}
	return nil, ErrNoActiveProvider
}
