package http

import (
	"net/http"

	"rental-payments-backend/internal/service"
)

type AccessHandler struct {
	accessSvc service.AccessService
}

func NewAccessHandler(accessSvc service.AccessService) *AccessHandler {
	return &AccessHandler{accessSvc: accessSvc}
}

// GetStatus reports the caller's progress through the access gate
func (h *AccessHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.accessSvc.GetStatus(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
