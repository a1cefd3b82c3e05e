package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailqueue/internal/models"
)

func pendingEntry(priority int, createdAt time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		ID:          uuid.New(),
		Recipient:   "ada@example.com",
		Subject:     "s",
		HTMLContent: "b",
		Priority:    priority,
		Status:      models.StatusPending,
		CreatedAt:   createdAt,
	}
}

func TestClaimOrdering(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	base := time.Now()

	lowOld := pendingEntry(models.PriorityLow, base.Add(-3*time.Minute))
	lowNew := pendingEntry(models.PriorityLow, base.Add(-1*time.Minute))
	high := pendingEntry(models.PriorityHigh, base)

	for _, e := range []*models.QueueEntry{lowNew, high, lowOld} {
		require.NoError(t, mem.Insert(ctx, e))
	}

	claimed, err := mem.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	// Priority first, then FIFO within a band.
	assert.Equal(t, high.ID, claimed[0].ID)
	assert.Equal(t, lowOld.ID, claimed[1].ID)
	assert.Equal(t, lowNew.ID, claimed[2].ID)
}

func TestClaimIsExclusive(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, mem.Insert(ctx, pendingEntry(models.PriorityNormal, time.Now())))
	}

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := mem.Claim(ctx, 20)
			mu.Lock()
			defer mu.Unlock()
			if !assert.NoError(t, err) {
				return
			}
			for _, e := range claimed {
				seen[e.ID]++
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s claimed more than once", id)
	}
}

func TestClaimRespectsLimit(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, mem.Insert(ctx, pendingEntry(models.PriorityNormal, time.Now())))
	}

	claimed, err := mem.Claim(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)

	n, err := mem.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMarkFailedRetryThenTerminal(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	e := pendingEntry(models.PriorityNormal, time.Now())
	require.NoError(t, mem.Insert(ctx, e))

	const maxAttempts = 2

	// First failure: back to pending.
	_, err := mem.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, mem.MarkFailed(ctx, e.ID, "boom", maxAttempts))

	got, err := mem.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.NotNil(t, got.LastAttemptAt)

	// Second failure reaches the budget: terminal.
	_, err = mem.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, mem.MarkFailed(ctx, e.ID, "boom again", maxAttempts))

	got, err = mem.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	sent := pendingEntry(models.PriorityNormal, time.Now())
	require.NoError(t, mem.Insert(ctx, sent))
	_, err := mem.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, mem.MarkSent(ctx, sent.ID))

	assert.ErrorIs(t, mem.MarkSent(ctx, sent.ID), ErrNotFound)
	assert.ErrorIs(t, mem.MarkFailed(ctx, sent.ID, "late", 3), ErrNotFound)

	got, err := mem.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestMarkRequiresClaim(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	e := pendingEntry(models.PriorityNormal, time.Now())
	require.NoError(t, mem.Insert(ctx, e))

	// Not claimed: the processor owns transitions, nothing else does.
	assert.ErrorIs(t, mem.MarkSent(ctx, e.ID), ErrNotFound)
	assert.ErrorIs(t, mem.MarkFailed(ctx, e.ID, "x", 3), ErrNotFound)
}

func TestReleaseStale(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	e := pendingEntry(models.PriorityNormal, time.Now())
	require.NoError(t, mem.Insert(ctx, e))
	_, err := mem.Claim(ctx, 1)
	require.NoError(t, err)

	// Claim is fresh: nothing to release.
	released, err := mem.ReleaseStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, released)

	// Zero horizon makes any claim stale.
	released, err = mem.ReleaseStale(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := mem.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestListFilters(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	base := time.Now()

	old := pendingEntry(models.PriorityNormal, base.Add(-time.Hour))
	recent := pendingEntry(models.PriorityNormal, base)
	require.NoError(t, mem.Insert(ctx, old))
	require.NoError(t, mem.Insert(ctx, recent))

	t.Run("since filter", func(t *testing.T) {
		since := base.Add(-time.Minute)
		got, err := mem.List(ctx, EntryFilter{Since: &since})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, recent.ID, got[0].ID)
	})

	t.Run("pending filter includes claimed entries", func(t *testing.T) {
		_, err := mem.Claim(ctx, 1)
		require.NoError(t, err)

		status := models.StatusPending
		got, err := mem.List(ctx, EntryFilter{Status: &status})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestActiveProviderConfig(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	_, err := mem.Active(ctx)
	assert.ErrorIs(t, err, ErrNoActiveProvider)

	mem.SetProviderConfig(&models.ProviderConfig{Name: "mailgun", Active: true, From: "noreply@example.com"})
	cfg, err := mem.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mailgun", cfg.Name)

	mem.SetProviderConfig(&models.ProviderConfig{Name: "mailgun", Active: false})
	_, err = mem.Active(ctx)
	assert.ErrorIs(t, err, ErrNoActiveProvider)
}

func TestTemplateLookup(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	mem.PutTemplate(&models.Template{ID: "tpl-1", Name: "welcome", Subject: "s", Body: "b"})

	byID, err := mem.GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "welcome", byID.Name)

	byName, err := mem.GetByName(ctx, "Welcome")
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", byName.ID)

	_, err = mem.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditAppendIsOrdered(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	entryID := uuid.New()

	for i, action := range []models.AuditAction{models.ActionQueued, models.ActionSendAttempted, models.ActionSendSucceeded} {
		require.NoError(t, mem.Append(ctx, &models.AuditRecord{
			ID:        uuid.New(),
			EntryID:   entryID,
			Action:    action,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}
	// Records for other entries stay invisible.
	require.NoError(t, mem.Append(ctx, &models.AuditRecord{ID: uuid.New(), EntryID: uuid.New(), Action: models.ActionQueued}))

	records, err := mem.ListByEntry(ctx, entryID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.ActionQueued, records[0].Action)
	assert.Equal(t, models.ActionSendSucceeded, records[2].Action)
}

func TestCountPending(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Insert(ctx, pendingEntry(models.PriorityNormal, time.Now())))
	}
	_, err := mem.Claim(ctx, 1)
	require.NoError(t, err)

	n, err := mem.CountPending(ctx)
	require.NoError(t, err)
	// Claimed entries are in flight, not pending.
	assert.Equal(t, 2, n)
}
