package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError переводит доменные ошибки в HTTP-статусы.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateApproval),
		errors.Is(err, domain.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorizedApprover),
		errors.Is(err, domain.ErrSelfApproval):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidDelegation),
		errors.Is(err, domain.ErrWorkflowNotApplicable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoExecutor):
		status = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), status)
}

// decode читает JSON тела; при ошибке сам отвечает 400.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
