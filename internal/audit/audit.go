// Package audit appends the immutable per-attempt trail. Audit is
// observability, not correctness: a failed append never propagates to the
// caller and never changes queue state.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailqueue/internal/metrics"
	"mailqueue/internal/models"
	"mailqueue/internal/store"
)

type Logger struct {
	store store.Audit
	log   *zap.Logger
}

func NewLogger(s store.Audit, log *zap.Logger) *Logger {
	return &Logger{store: s, log: log}
}

// Record appends one audit fact, fire-and-forget. Storage errors go to the
// operational log and a drop counter.
func (l *Logger) Record(ctx context.Context, entryID uuid.UUID, action models.AuditAction, provider, errMsg string) {
	rec := &models.AuditRecord{
		ID:        uuid.New(),
		EntryID:   entryID,
		Action:    action,
		Provider:  provider,
		Error:     errMsg,
		CreatedAt: time.Now(),
	}

	if err := l.store.Append(ctx, rec); err != nil {
		metrics.AuditDrops.Inc()
		l.log.Error("audit record dropped",
			zap.String("entry_id", entryID.String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}
