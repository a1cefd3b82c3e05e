package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailqueue/internal/csvparser"
	"mailqueue/internal/models"
	"mailqueue/internal/queue"
	"mailqueue/internal/store"
)

// Kicker is the on-demand trigger surface the API depends on.
type Kicker interface {
	Kick()
}

type Handler struct {
	Gateway          *queue.Gateway
	Queue            store.Queue
	Audit            store.Audit
	Trigger          Kicker
	Log              *zap.Logger
	BroadcastMaxRows int
}

// Enqueue accepts one send request. Returns 202 with the entry id; the
// actual delivery outcome is visible only through the status endpoints.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req queue.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	id, err := h.Gateway.Enqueue(r.Context(), &req)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidRecipient) || errors.Is(err, queue.ErrInvalidContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	// Urgent mail gets a best-effort immediate tick.
	if req.Priority != nil && *req.Priority >= models.PriorityHigh {
		h.Trigger.Kick()
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

// Broadcast bulk-enqueues a templated send for each row of a recipient CSV.
// Query params: template_id (required), priority.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	templateID := r.URL.Query().Get("template_id")
	if templateID == "" {
		writeError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	priority := models.PriorityNormal
	if raw := r.URL.Query().Get("priority"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		priority = n
	}

	recipients, err := csvparser.ParseRecipients(r.Body, h.BroadcastMaxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Gateway.EnqueueBroadcast(r.Context(), recipients, templateID, priority,
		map[string]any{"source": "broadcast"})
	if err != nil && result == nil {
		if errors.Is(err, queue.ErrInvalidContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("broadcast failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	entry, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		h.Log.Error("entry read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "entry read failed")
		return
	}

	writeJSON(w, http.StatusOK, publicEntry(entry))
}

// ListEntries filters by ?status= and ?since= (RFC 3339).
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	var filter store.EntryFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.Status(raw)
		switch status {
		case models.StatusPending, models.StatusSent, models.StatusFailed:
			filter.Status = &status
		default:
			writeError(w, http.StatusBadRequest, "status must be pending, sent or failed")
			return
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = &since
	}

	entries, err := h.Queue.List(r.Context(), filter)
	if err != nil {
		h.Log.Error("entry list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "entry list failed")
		return
	}

	out := make([]*models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, publicEntry(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetEntryAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	records, err := h.Audit.ListByEntry(r.Context(), id)
	if err != nil {
		h.Log.Error("audit read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit read failed")
		return
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Process requests an immediate processing pass. Safe to call concurrently:
// the claim step guarantees no entry is delivered twice.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	h.Trigger.Kick()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
}

// publicEntry hides the internal claim marker from API consumers.
func publicEntry(e *models.QueueEntry) *models.QueueEntry {
	cp := *e
	cp.Status = cp.Status.Public()
	return &cp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
