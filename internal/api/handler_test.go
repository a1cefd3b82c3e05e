package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mailqueue/internal/audit"
	"mailqueue/internal/models"
	"mailqueue/internal/queue"
	"mailqueue/internal/store"
)

type fakeKicker struct {
	kicks int32
}

func (f *fakeKicker) Kick() { atomic.AddInt32(&f.kicks, 1) }

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory, *fakeKicker) {
	t.Helper()
	mem := store.NewMemory()
	log := zaptest.NewLogger(t)
	kicker := &fakeKicker{}

	h := &Handler{
		Gateway:          queue.NewGateway(mem, audit.NewLogger(mem, log), log),
		Queue:            mem,
		Audit:            mem,
		Trigger:          kicker,
		Log:              log,
		BroadcastMaxRows: 100,
	}

	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, mem, kicker
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestEnqueueEndpoint(t *testing.T) {
	srv, mem, kicker := newTestServer(t)

	t.Run("accepts a valid request", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/emails", map[string]any{
			"recipient":    "ada@example.com",
			"subject":      "Hello",
			"html_content": "<p>Hi</p>",
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		body := decode[map[string]string](t, resp)
		id, err := uuid.Parse(body["id"])
		require.NoError(t, err)

		entry, err := mem.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, entry.Status)
	})

	t.Run("rejects an invalid recipient", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/emails", map[string]any{
			"recipient":    "not-an-address",
			"subject":      "Hello",
			"html_content": "<p>Hi</p>",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects ambiguous content", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/emails", map[string]any{
			"recipient":    "ada@example.com",
			"subject":      "Hello",
			"html_content": "<p>Hi</p>",
			"template_id":  "welcome",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("high priority kicks the trigger", func(t *testing.T) {
		before := atomic.LoadInt32(&kicker.kicks)
		resp := postJSON(t, srv.URL+"/api/v1/emails", map[string]any{
			"recipient":   "ada@example.com",
			"template_id": "password-reset",
			"priority":    models.PriorityHigh,
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, before+1, atomic.LoadInt32(&kicker.kicks))
	})
}

func TestGetEntryEndpoint(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	e := &models.QueueEntry{
		ID:          uuid.New(),
		Recipient:   "ada@example.com",
		Subject:     "s",
		HTMLContent: "b",
		Priority:    models.PriorityNormal,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, mem.Insert(context.Background(), e))

	t.Run("returns the entry", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/emails/" + e.ID.String())
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decode[models.QueueEntry](t, resp)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, models.StatusPending, got.Status)
	})

	t.Run("reports a claimed entry as pending", func(t *testing.T) {
		_, err := mem.Claim(context.Background(), 1)
		require.NoError(t, err)

		resp, err := http.Get(srv.URL + "/api/v1/emails/" + e.ID.String())
		require.NoError(t, err)
		got := decode[models.QueueEntry](t, resp)
		assert.Equal(t, models.StatusPending, got.Status)
	})

	t.Run("404 for unknown ids", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/emails/" + uuid.NewString())
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("400 for malformed ids", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/emails/not-a-uuid")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListEntriesEndpoint(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Insert(context.Background(), &models.QueueEntry{
			ID:          uuid.New(),
			Recipient:   fmt.Sprintf("user%d@example.com", i),
			Subject:     "s",
			HTMLContent: "b",
			CreatedAt:   time.Now(),
		}))
	}

	t.Run("filters by status", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/emails?status=pending")
		require.NoError(t, err)
		got := decode[[]models.QueueEntry](t, resp)
		assert.Len(t, got, 3)

		resp, err = http.Get(srv.URL + "/api/v1/emails?status=sent")
		require.NoError(t, err)
		got = decode[[]models.QueueEntry](t, resp)
		assert.Empty(t, got)
	})

	t.Run("rejects unknown statuses", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/emails?status=processing")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects malformed since", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/emails?since=yesterday")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestBroadcastEndpoint(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	csv := "email,name\nada@example.com,Ada\ngrace@example.com,Grace\n"

	t.Run("enqueues one entry per row", func(t *testing.T) {
		resp, err := http.Post(
			srv.URL+"/api/v1/broadcasts?template_id=newsletter&priority=0",
			"text/csv",
			strings.NewReader(csv),
		)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		result := decode[queue.BroadcastResult](t, resp)
		assert.Equal(t, 2, result.Queued)
		assert.Zero(t, result.Skipped)

		n, err := mem.CountPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("requires template_id", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/v1/broadcasts", "text/csv", strings.NewReader(csv))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects an unusable csv", func(t *testing.T) {
		resp, err := http.Post(
			srv.URL+"/api/v1/broadcasts?template_id=newsletter",
			"text/csv",
			strings.NewReader("name\nAda\n"),
		)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAuditEndpoint(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	entryID := uuid.New()
	require.NoError(t, mem.Append(context.Background(), &models.AuditRecord{
		ID:        uuid.New(),
		EntryID:   entryID,
		Action:    models.ActionQueued,
		CreatedAt: time.Now(),
	}))

	resp, err := http.Get(srv.URL + "/api/v1/emails/" + entryID.String() + "/audit")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records := decode[[]models.AuditRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, models.ActionQueued, records[0].Action)
}

func TestProcessEndpoint(t *testing.T) {
	srv, _, kicker := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/process", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&kicker.kicks))
}
