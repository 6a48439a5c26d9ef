package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
)

// GovernanceService Описываем, что нам нужно от сервиса
type GovernanceService interface {
	ListDelegations(ctx context.Context) ([]domain.Delegation, error)
	GetDelegation(ctx context.Context, id string) (domain.Delegation, error)
	CreateDelegation(ctx context.Context, d domain.Delegation, actor domain.Actor) (domain.Delegation, error)
	Analyze(ctx context.Context, id string) (domain.HealthAnalysis, error)
	Report(ctx context.Context) (domain.SystemHealthReport, error)
	DetectConflicts(ctx context.Context) ([]domain.Conflict, error)
	ResolveConflict(ctx context.Context, conflictID, resolutionID string, actor domain.Actor) (domain.Conflict, error)
	ExecuteCommand(ctx context.Context, cmd domain.Command, actor domain.Actor) error
	RestoreVersion(ctx context.Context, delegationID, snapshotID string, actor domain.Actor) (domain.Delegation, error)
}

type DelegationHandler struct {
	service GovernanceService
}

func NewDelegationHandler(s GovernanceService) *DelegationHandler {
	return &DelegationHandler{service: s}
}

// List GET /v1/delegations
func (h *DelegationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListDelegations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get GET /v1/delegations/{id}
func (h *DelegationHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.GetDelegation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Create POST /v1/delegations
func (h *DelegationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var d domain.Delegation
	if !decode(w, r, &d) {
		return
	}
	created, err := h.service.CreateDelegation(r.Context(), d, auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Health GET /v1/delegations/{id}/health — комплексная оценка делегации.
func (h *DelegationHandler) Health(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Execute POST /v1/commands — применить рекомендованную команду.
func (h *DelegationHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if !decode(w, r, &cmd) {
		return
	}
	if cmd.Kind == "" {
		http.Error(w, "command kind is required", http.StatusBadRequest)
		return
	}
	if err := h.service.ExecuteCommand(r.Context(), cmd, auth.ActorFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type restoreRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

// Restore POST /v1/delegations/{id}/restore
func (h *DelegationHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.service.RestoreVersion(r.Context(), chi.URLParam(r, "id"), req.SnapshotID, auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Report GET /v1/report — отчёт о здоровье всей системы.
// Частичный отчёт (клиент ушёл посреди прохода) не отдаём: соединения уже нет.
func (h *DelegationHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Report(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Conflicts GET /v1/conflicts
func (h *DelegationHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.DetectConflicts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Conflict{}
	}
	writeJSON(w, http.StatusOK, list)
}

type resolveRequest struct {
	ResolutionID string `json:"resolution_id"`
}

// ResolveConflict POST /v1/conflicts/{id}/resolve
func (h *DelegationHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.ResolveConflict(r.Context(), chi.URLParam(r, "id"), req.ResolutionID, auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
