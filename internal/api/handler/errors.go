package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/internal/registry"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
)

// writeError maps engine and registry errors onto HTTP status codes and the
// error envelope. partial is the result the operation returned alongside a
// payment failure, if any.
func writeError(w http.ResponseWriter, r *http.Request, err error, partial any) {
	var (
		verr *engine.ValidationError
		serr *engine.InvalidStateError
		perr *engine.PaymentError
		cerr *engine.CollaboratorError
	)
	switch {
	case errors.As(err, &verr):
		if verr.Rule == engine.RuleNotFound {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", verr.Message, nil)
			return
		}
		response.Error(w, http.StatusBadRequest, ruleCode(verr.Rule), verr.Message,
			map[string]any{"rule": verr.Rule})
	case errors.Is(err, engine.ErrNegotiationLimitExceeded):
		response.Error(w, http.StatusConflict, "NEGOTIATION_LIMIT_EXCEEDED", err.Error(), nil)
	case errors.As(err, &serr):
		response.Error(w, http.StatusConflict, "INVALID_STATE", serr.Error(),
			map[string]any{"entity": serr.Entity, "id": serr.ID, "state": serr.State})
	case errors.As(err, &perr):
		details := map[string]any{"operation": perr.Op, "job_id": perr.JobID}
		if partial != nil {
			details["result"] = partial
		}
		response.Error(w, http.StatusBadGateway, "PAYMENT_FAILED", perr.Error(), details)
	case errors.As(err, &cerr):
		response.Error(w, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE", cerr.Error(),
			map[string]any{"collaborator": cerr.Collaborator})
	case errors.Is(err, registry.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, registry.ErrCooldown):
		response.Error(w, http.StatusTooManyRequests, "REGISTRATION_COOLDOWN", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// ruleCode turns a rule name like "over-budget" into "OVER_BUDGET".
func ruleCode(rule string) string {
	return strings.ToUpper(strings.ReplaceAll(rule, "-", "_"))
}

func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", message, nil)
}

func forbidden(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusForbidden, "FORBIDDEN", message, nil)
}
