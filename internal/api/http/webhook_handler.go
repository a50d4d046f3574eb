package http

import (
	"errors"
	"io"
	"net/http"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives processor callbacks. The body is passed through
// unparsed so the signature is checked over the exact bytes that were sent.
type WebhookHandler struct {
	webhookSvc service.WebhookService
}

func NewWebhookHandler(webhookSvc service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.Warn("Webhook body rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	outcome, err := h.webhookSvc.HandleDelivery(r.Context(), body,
		r.Header.Get(gateway.SignatureHeader),
		r.Header.Get(gateway.SignatureTimestampHeader),
	)
	if err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) || errors.Is(err, domain.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		// Non-2xx makes the processor redeliver; the claim was released.
		logger.Error("Webhook effect failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
