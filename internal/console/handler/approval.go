package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
)

// ApprovalService Описываем, что нам нужно от движка согласований
type ApprovalService interface {
	CreateRequest(ctx context.Context, d domain.Delegation, requesterID string) (domain.ApprovalRequest, error)
	Get(ctx context.Context, id string) (domain.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]domain.ApprovalRequest, error)
	Approve(ctx context.Context, id string, approver domain.Actor, comments string) (domain.ApprovalRequest, error)
	Reject(ctx context.Context, id string, approver domain.Actor, comments string) (domain.ApprovalRequest, error)
	Delegate(ctx context.Context, id string, from domain.Actor, toApproverID, comments string) (domain.ApprovalRequest, error)
	Cancel(ctx context.Context, id string, actor domain.Actor) (domain.ApprovalRequest, error)
}

// DelegationLookup — откуда брать делегацию при создании запроса.
type DelegationLookup interface {
	GetDelegation(ctx context.Context, id string) (domain.Delegation, error)
}

// WorkflowCatalog — зарегистрированные шаблоны (approval.Registry).
type WorkflowCatalog interface {
	All() []domain.ApprovalWorkflow
}

type ApprovalHandler struct {
	service     ApprovalService
	delegations DelegationLookup
	workflows   WorkflowCatalog
}

func NewApprovalHandler(s ApprovalService, delegations DelegationLookup, workflows WorkflowCatalog) *ApprovalHandler {
	return &ApprovalHandler{service: s, delegations: delegations, workflows: workflows}
}

// Workflows GET /v1/approvals/workflows
func (h *ApprovalHandler) Workflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workflows.All())
}

type createApprovalRequest struct {
	DelegationID string `json:"delegation_id"`
}

// Create POST /v1/approvals — запрос на согласование делегации; шаблон выбирается автоматически.
func (h *ApprovalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.delegations.GetDelegation(r.Context(), req.DelegationID)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := h.service.CreateRequest(r.Context(), d, auth.ActorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List GET /v1/approvals — очередь открытых запросов.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
	// Только для delegate: кому передать право решения
	To string `json:"to,omitempty"`
}

// Decide POST /v1/approvals/{id}/decide — approve/reject от имени актора токена.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	approver := auth.ActorFrom(r.Context())

	decide := h.service.Reject
	if req.Approved {
		decide = h.service.Approve
	}
	updated, err := decide(r.Context(), id, approver, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DelegateDecision POST /v1/approvals/{id}/delegate
func (h *ApprovalHandler) DelegateDecision(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decode(w, r, &req) {
		return
	}
	if req.To == "" {
		http.Error(w, "delegate target is required", http.StatusBadRequest)
		return
	}
	updated, err := h.service.Delegate(r.Context(), chi.URLParam(r, "id"), auth.ActorFrom(r.Context()), req.To, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Cancel POST /v1/approvals/{id}/cancel
func (h *ApprovalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), auth.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
