package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
)

// TimelineReader — операции журнала, доступные консоли (*audit.Timeline).
type TimelineReader interface {
	Events(delegationID string, f audit.Filter) []domain.TimelineEvent
	ChangeHistory(delegationID string) []domain.ChangeSnapshot
	CompareVersions(delegationID, fromSnapshotID, toSnapshotID string) ([]domain.FieldDiff, error)
	AuditTrail(delegationID string) audit.Trail
	RecordEvent(ctx context.Context, e domain.TimelineEvent) (domain.TimelineEvent, error)
	ExportJSON(w io.Writer, delegationID string) error
	ExportCSV(w io.Writer, delegationID string) error
}

type AuditHandler struct {
	timeline TimelineReader
}

func NewAuditHandler(t TimelineReader) *AuditHandler {
	return &AuditHandler{timeline: t}
}

// Events GET /v1/delegations/{id}/events?type=&actor=&tag=&q=&from=&to=&limit=
func (h *AuditHandler) Events(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events := h.timeline.Events(chi.URLParam(r, "id"), f)
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID: q.Get("actor"),
		Tags:    q["tag"],
		Text:    q.Get("q"),
	}
	for _, t := range q["type"] {
		for _, part := range strings.Split(t, ",") {
			if part != "" {
				f.Types = append(f.Types, domain.EventType(part))
			}
		}
	}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("invalid to: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
	}
	return f, nil
}

type eventRequest struct {
	Type        domain.EventType `json:"type"`
	Action      string           `json:"action"`
	Description string           `json:"description"`
	Details     map[string]any   `json:"details"`
	Tags        []string         `json:"tags"`
	Attachments []string         `json:"attachments"`
}

// Record POST /v1/delegations/{id}/events — ручная запись (комментарий, документ).
func (h *AuditHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = domain.EventCommentAdded
	}
	e, err := h.timeline.RecordEvent(r.Context(), domain.TimelineEvent{
		DelegationID: chi.URLParam(r, "id"),
		Type:         req.Type,
		Actor:        auth.ActorFrom(r.Context()),
		Action:       req.Action,
		Description:  req.Description,
		Details:      req.Details,
		Tags:         req.Tags,
		Attachments:  req.Attachments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// Changes GET /v1/delegations/{id}/changes
func (h *AuditHandler) Changes(w http.ResponseWriter, r *http.Request) {
	history := h.timeline.ChangeHistory(chi.URLParam(r, "id"))
	if history == nil {
		history = []domain.ChangeSnapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

// Compare GET /v1/delegations/{id}/compare?from=&to=
func (h *AuditHandler) Compare(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		http.Error(w, "from and to snapshot ids are required", http.StatusBadRequest)
		return
	}
	diffs, err := h.timeline.CompareVersions(chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	if diffs == nil {
		diffs = []domain.FieldDiff{}
	}
	writeJSON(w, http.StatusOK, diffs)
}

// Trail GET /v1/delegations/{id}/trail
func (h *AuditHandler) Trail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.timeline.AuditTrail(chi.URLParam(r, "id")))
}

// Export GET /v1/delegations/{id}/export?format=json|csv
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-timeline.json"))
		if err := h.timeline.ExportJSON(w, id); err != nil {
			writeError(w, err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-timeline.csv"))
		if err := h.timeline.ExportCSV(w, id); err != nil {
			writeError(w, err)
		}
	default:
		http.Error(w, "unsupported export format "+format, http.StatusBadRequest)
	}
}
