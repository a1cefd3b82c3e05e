package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailqueue/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS email_queue (
	id              UUID PRIMARY KEY,
	recipient       TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	html_content    TEXT NOT NULL DEFAULT '',
	template_id     TEXT NOT NULL DEFAULT '',
	template_data   JSONB,
	priority        INT NOT NULL DEFAULT 1,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INT NOT NULL DEFAULT 0,
	error_message   TEXT,
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_attempt_at TIMESTAMPTZ,
	claimed_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS email_queue_pending_idx
	ON email_queue (priority DESC, created_at ASC) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS email_templates (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL,
	body    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS email_audit (
	id         UUID PRIMARY KEY,
	entry_id   UUID NOT NULL,
	action     TEXT NOT NULL,
	provider   TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS email_audit_entry_idx ON email_audit (entry_id, created_at);

CREATE TABLE IF NOT EXISTS provider_configs (
	name         TEXT PRIMARY KEY,
	active       BOOLEAN NOT NULL DEFAULT FALSE,
	from_address TEXT NOT NULL DEFAULT '',
	settings     JSONB
);
`

const entryColumns = `id, recipient, subject, html_content, template_id, template_data,
	priority, status, attempts, error_message, metadata, created_at, last_attempt_at`

// Postgres implements Queue, Templates, Audit and ProviderConfigs on one pool.
type Postgres struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// Connect opens a pool and pings it, retrying with exponential backoff so a
// restart does not race the database coming up.
func Connect(ctx context.Context, url string) (*Postgres, error) {
	var pool *pgxpool.Pool

	operation := func() error {
		p, err := pgxpool.New(ctx, url)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Postgres{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the queue, template, audit and provider tables.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, entry *models.QueueEntry) error {
	dataJSON, err := json.Marshal(entry.TemplateData)
	if err != nil {
		return fmt.Errorf("marshal template data: %w", err)
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	q := p.sb.
		Insert("email_queue").
		Columns("id", "recipient", "subject", "html_content", "template_id",
			"template_data", "priority", "status", "attempts", "metadata", "created_at").
		Values(entry.ID, entry.Recipient, entry.Subject, entry.HTMLContent, entry.TemplateID,
			dataJSON, entry.Priority, models.StatusPending, 0, metaJSON, entry.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build queue insert: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// Claim uses SKIP LOCKED so overlapping processors never receive the same
// entry: at most one in-flight delivery attempt per entry at any time.
func (p *Postgres) Claim(ctx context.Context, limit int) ([]*models.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		UPDATE email_queue SET status = $1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM email_queue
			WHERE status = $2
			ORDER BY priority DESC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryColumns,
		models.StatusProcessing, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows, limit)
	if err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not preserve the subquery ordering.
	sortEntries(entries)
	return entries, nil
}

func (p *Postgres) MarkSent(ctx context.Context, id uuid.UUID) error {
	q := p.sb.
		Update("email_queue").
		Set("status", models.StatusSent).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_attempt_at", sq.Expr("NOW()")).
		Set("error_message", nil).
		Set("claimed_at", nil).
		Where(sq.Eq{"id": id, "status": models.StatusProcessing})

	return p.execOne(ctx, q, "mark sent")
}

func (p *Postgres) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	q := p.sb.
		Update("email_queue").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("error_message", reason).
		Set("last_attempt_at", sq.Expr("NOW()")).
		Set("claimed_at", nil).
		Set("status", sq.Expr(
			"CASE WHEN (attempts + 1) >= ? THEN ? ELSE ? END",
			maxAttempts, models.StatusFailed, models.StatusPending,
		)).
		Where(sq.Eq{"id": id, "status": models.StatusProcessing})

	return p.execOne(ctx, q, "mark failed")
}

func (p *Postgres) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	q := p.sb.
		Update("email_queue").
		Set("status", models.StatusPending).
		Set("claimed_at", nil).
		Where(sq.Eq{"status": models.StatusProcessing}).
		Where(sq.Lt{"claimed_at": cutoff})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build release stale: %w", err)
	}
	tag, err := p.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM email_queue WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

func (p *Postgres) List(ctx context.Context, filter EntryFilter) ([]*models.QueueEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := p.sb.
		Select("id", "recipient", "subject", "html_content", "template_id", "template_data",
			"priority", "status", "attempts", "error_message", "metadata",
			"created_at", "last_attempt_at").
		From("email_queue").
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	if filter.Status != nil {
		if *filter.Status == models.StatusPending {
			// The in-flight marker is invisible outside the store.
			q = q.Where(sq.Eq{"status": []models.Status{models.StatusPending, models.StatusProcessing}})
		} else {
			q = q.Where(sq.Eq{"status": *filter.Status})
		}
	}
	if filter.Since != nil {
		q = q.Where(sq.GtOrEq{"created_at": *filter.Since})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entry list: %w", err)
	}
	rows, err := p.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows, limit)
}

func (p *Postgres) CountPending(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_queue WHERE status = $1`,
		models.StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*models.Template, error) {
	return p.template(ctx, sq.Eq{"id": id})
}

func (p *Postgres) GetByName(ctx context.Context, name string) (*models.Template, error) {
	return p.template(ctx, sq.Eq{"name": name})
}

func (p *Postgres) template(ctx context.Context, where sq.Eq) (*models.Template, error) {
	q := p.sb.
		Select("id", "name", "subject", "body").
		From("email_templates").
		Where(where)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build template select: %w", err)
	}

	var t models.Template
	err = p.pool.QueryRow(ctx, sqlStr, args...).Scan(&t.ID, &t.Name, &t.Subject, &t.Body)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (p *Postgres) Append(ctx context.Context, rec *models.AuditRecord) error {
	q := p.sb.
		Insert("email_audit").
		Columns("id", "entry_id", "action", "provider", "error", "created_at").
		Values(rec.ID, rec.EntryID, rec.Action, rec.Provider, rec.Error, rec.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (p *Postgres) ListByEntry(ctx context.Context, entryID uuid.UUID) ([]*models.AuditRecord, error) {
	q := p.sb.
		Select("id", "entry_id", "action", "provider", "error", "created_at").
		From("email_audit").
		Where(sq.Eq{"entry_id": entryID}).
		OrderBy("created_at ASC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit select: %w", err)
	}
	rows, err := p.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var recs []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.ID, &r.EntryID, &r.Action, &r.Provider, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

func (p *Postgres) Active(ctx context.Context) (*models.ProviderConfig, error) {
	q := p.sb.
		Select("name", "active", "from_address", "settings").
		From("provider_configs").
		Where(sq.Eq{"active": true}).
		OrderBy("name ASC").
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build config select: %w", err)
	}

	var (
		cfg      models.ProviderConfig
		settings []byte
	)
	err = p.pool.QueryRow(ctx, sqlStr, args...).Scan(&cfg.Name, &cfg.Active, &cfg.From, &settings)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNoActiveProvider
		}
		return nil, fmt.Errorf("get active config: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal config settings: %w", err)
		}
	}
	return &cfg, nil
}

// ----------------------------
// helpers
// ----------------------------

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows pgxRows, capacity int) ([]*models.QueueEntry, error) {
	entries := make([]*models.QueueEntry, 0, capacity)

	for rows.Next() {
		var (
			e           models.QueueEntry
			data        []byte
			meta        []byte
			errMsg      pgtype.Text
			lastAttempt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&e.ID, &e.Recipient, &e.Subject, &e.HTMLContent, &e.TemplateID,
			&data, &e.Priority, &e.Status, &e.Attempts, &errMsg, &meta,
			&e.CreatedAt, &lastAttempt,
		); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}

		if errMsg.Valid {
			e.ErrorMessage = errMsg.String
		}
		if lastAttempt.Valid {
			t := lastAttempt.Time
			e.LastAttemptAt = &t
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.TemplateData); err != nil {
				return nil, fmt.Errorf("unmarshal template data: %w", err)
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (p *Postgres) execOne(ctx context.Context, q sq.UpdateBuilder, what string) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", what, err)
	}
	tag, err := p.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
