package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/logger"
)

type errorResponse struct {
	Error    string            `json:"error"`
	NextStep domain.AccessStep `json:"next_step,omitempty"`
}

type pendingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	var precondition *domain.PreconditionError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFoundOrForbidden):
		return http.StatusNotFound
	case errors.As(err, &precondition):
		if precondition.Conceal {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccessRequired):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayTimeout):
		return http.StatusAccepted
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusAccepted:
		writeJSON(w, status, pendingResponse{
			Status:  "pending",
			Message: "payment processor did not answer in time; the result will be applied when it reports back",
		})
		return
	case http.StatusNotFound:
		// Concealed preconditions must read the same as a missing row.
		writeJSON(w, status, errorResponse{Error: domain.ErrNotFoundOrForbidden.Error()})
		return
	case http.StatusInternalServerError:
		logger.Error("Request failed", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	resp := errorResponse{Error: err.Error()}
	var accessErr *domain.AccessError
	if errors.As(err, &accessErr) {
		resp.NextStep = accessErr.NextStep
	}
	writeJSON(w, status, resp)
}
