package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/delegation-governance/internal/continuity"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
)

// ContinuityService Описываем, что нам нужно от менеджера непрерывности
type ContinuityService interface {
	DesignateSuccessor(ctx context.Context, in continuity.SuccessorInput, actor domain.Actor) (domain.Successor, error)
	DeclineSuccessor(ctx context.Context, successorID string, actor domain.Actor) (domain.Successor, error)
	Successors(ctx context.Context, delegationID string) ([]domain.Successor, error)
	DeclareAbsence(ctx context.Context, in continuity.AbsenceInput, actor domain.Actor) (domain.AbsenceNotification, error)
	Absences(ctx context.Context, agentID string) ([]domain.AbsenceNotification, error)
	AssignReplacement(ctx context.Context, in continuity.ReplacementInput, actor domain.Actor) (domain.Replacement, error)
	ActivateReplacement(ctx context.Context, id string, actor domain.Actor) (domain.Replacement, error)
	CompleteReplacement(ctx context.Context, id string, actor domain.Actor) (domain.Replacement, error)
	CancelReplacement(ctx context.Context, id string, actor domain.Actor) (domain.Replacement, error)
	Replacements(ctx context.Context, delegationID string) ([]domain.Replacement, error)
	GetDelegationsWithoutBackup(ctx context.Context, ds []domain.Delegation) ([]domain.Delegation, error)
}

// DelegationLister — текущий набор делегаций для отчёта о покрытии.
type DelegationLister interface {
	ListDelegations(ctx context.Context) ([]domain.Delegation, error)
}

type ContinuityHandler struct {
	service     ContinuityService
	delegations DelegationLister
}

func NewContinuityHandler(s ContinuityService, delegations DelegationLister) *ContinuityHandler {
	return &ContinuityHandler{service: s, delegations: delegations}
}

// DesignateSuccessor POST /v1/delegations/{id}/successors
func (h *ContinuityHandler) DesignateSuccessor(w http.ResponseWriter, r *http.Request) {
	var in continuity.SuccessorInput
	if !decode(w, r, &in) {
		return
	}
	in.DelegationID = chi.URLParam(r, "id")
	s, err := h.service.DesignateSuccessor(r.Context(), in, auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// Successors GET /v1/delegations/{id}/successors
func (h *ContinuityHandler) Successors(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Successors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Successor{}
	}
	writeJSON(w, http.StatusOK, list)
}

// DeclineSuccessor POST /v1/successors/{id}/decline
func (h *ContinuityHandler) DeclineSuccessor(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.DeclineSuccessor(r.Context(), chi.URLParam(r, "id"), auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeclareAbsence POST /v1/absences
func (h *ContinuityHandler) DeclareAbsence(w http.ResponseWriter, r *http.Request) {
	var in continuity.AbsenceInput
	if !decode(w, r, &in) {
		return
	}
	n, err := h.service.DeclareAbsence(r.Context(), in, auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// Absences GET /v1/absences?agent=
func (h *ContinuityHandler) Absences(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Absences(r.Context(), r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.AbsenceNotification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AssignReplacement POST /v1/replacements
func (h *ContinuityHandler) AssignReplacement(w http.ResponseWriter, r *http.Request) {
	var in continuity.ReplacementInput
	if !decode(w, r, &in) {
		return
	}
	rep, err := h.service.AssignReplacement(r.Context(), in, auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// Replacements GET /v1/delegations/{id}/replacements
func (h *ContinuityHandler) Replacements(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Replacements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Replacement{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Transition POST /v1/replacements/{id}/{action}, action: activate|complete|cancel
func (h *ContinuityHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var move func(context.Context, string, domain.Actor) (domain.Replacement, error)
	switch action := chi.URLParam(r, "action"); action {
	case "activate":
		move = h.service.ActivateReplacement
	case "complete":
		move = h.service.CompleteReplacement
	case "cancel":
		move = h.service.CancelReplacement
	default:
		http.Error(w, "unknown replacement action "+action, http.StatusNotFound)
		return
	}
	rep, err := move(r.Context(), chi.URLParam(r, "id"), auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Uncovered GET /v1/continuity/uncovered — критичные делегации без преемника и без замены.
func (h *ContinuityHandler) Uncovered(w http.ResponseWriter, r *http.Request) {
	all, err := h.delegations.ListDelegations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.service.GetDelegationsWithoutBackup(r.Context(), all)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Delegation{}
	}
	writeJSON(w, http.StatusOK, list)
}
