// Package store defines the persistence interfaces for the delivery queue
// and provides Postgres and in-memory implementations. The queue table is the
// single source of truth; every state transition goes through it.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"mailqueue/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrNoActiveProvider is a normal, reportable condition: the batch fails
	// and is retried on a later tick once configuration is fixed.
	ErrNoActiveProvider = errors.New("store: no active provider configuration")
)

// EntryFilter narrows List results. Nil fields match everything.
type EntryFilter struct {
	Status *models.Status
	Since  *time.Time
	Limit  int
}

// Queue is the durable entry table.
//
// Claim must be atomic with respect to concurrent callers: an entry claimed
// by one processor is invisible to every other until it is marked or released.
// MarkSent and MarkFailed must refuse to touch entries that are not currently
// claimed, which makes terminal states immutable by construction.
type Queue interface {
	Insert(ctx context.Context, entry *models.QueueEntry) error

	// Claim moves up to limit pending entries to the in-flight marker and
	// returns them ordered by priority descending, then created_at ascending.
	Claim(ctx context.Context, limit int) ([]*models.QueueEntry, error)

	// MarkSent finalizes a claimed entry: status=sent, attempts+1.
	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed attempt on a claimed entry: attempts+1,
	// errorMessage set, and status=failed once attempts reaches maxAttempts,
	// otherwise back to pending for a later batch.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error

	// ReleaseStale returns entries claimed longer than olderThan ago to
	// pending. Recovers work lost to a processor that died mid-batch.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)

	Get(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	List(ctx context.Context, filter EntryFilter) ([]*models.QueueEntry, error)
	CountPending(ctx context.Context) (int, error)
}

// Templates is read-only to this subsystem; authoring lives elsewhere.
type Templates interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	GetByName(ctx context.Context, name string) (*models.Template, error)
}

// Audit is append-only. Records are never updated or deleted here.
type Audit interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]*models.AuditRecord, error)
}

// ProviderConfigs resolves the active delivery configuration. Read at the
// start of each batch, never cached across batches.
type ProviderConfigs interface {
	Active(ctx context.Context) (*models.ProviderConfig, error)
}

// sortEntries orders a claimed batch: urgent first, oldest first within a
// priority band.
func sortEntries(entries []*models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
