package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/service"
	"rental-payments-backend/internal/utils"
)

const maxRequestBody = 64 << 10

type requestRentalBody struct {
	ListingID string `json:"listing_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Message   string `json:"message"`
}

type approveBody struct {
	Response string `json:"response"`
}

type declineBody struct {
	Reason string `json:"reason"`
}

type pickupBody struct {
	Condition domain.ItemCondition `json:"condition"`
}

type returnBody struct {
	Condition domain.ItemCondition `json:"condition"`
	Notes     string               `json:"notes"`
}

type damageClaimBody struct {
	AmountCents  int64    `json:"amount_cents"`
	Notes        string   `json:"notes"`
	EvidenceURLs []string `json:"evidence_urls"`
}

// RentalHandler exposes the transaction state machine over HTTP
type RentalHandler struct {
	rentalSvc service.RentalService
}

func NewRentalHandler(rentalSvc service.RentalService) *RentalHandler {
	return &RentalHandler{rentalSvc: rentalSvc}
}

func (h *RentalHandler) Request(w http.ResponseWriter, r *http.Request) {
	var body requestRentalBody
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDate(body.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDate(body.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}

	rt, err := h.rentalSvc.Request(r.Context(), service.RequestInput{
		BorrowerID: callerID(r),
		ListingID:  body.ListingID,
		StartDate:  start,
		EndDate:    end,
		Message:    body.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (h *RentalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	rt, err := h.rentalSvc.Approve(r.Context(), callerID(r), transactionID(r), body.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *RentalHandler) Decline(w http.ResponseWriter, r *http.Request) {
	var body declineBody
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	rt, err := h.rentalSvc.Decline(r.Context(), callerID(r), transactionID(r), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *RentalHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	action, err := h.rentalSvc.ConfirmPayment(r.Context(), callerID(r), transactionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (h *RentalHandler) Pickup(w http.ResponseWriter, r *http.Request) {
	var body pickupBody
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	rt, err := h.rentalSvc.Pickup(r.Context(), callerID(r), transactionID(r), body.Condition)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *RentalHandler) Return(w http.ResponseWriter, r *http.Request) {
	var body returnBody
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	rt, err := h.rentalSvc.ReturnItem(r.Context(), callerID(r), transactionID(r), body.Condition, body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *RentalHandler) DamageClaim(w http.ResponseWriter, r *http.Request) {
	var body damageClaimBody
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	rt, err := h.rentalSvc.DamageClaim(r.Context(), service.DamageClaimInput{
		LenderID:      callerID(r),
		TransactionID: transactionID(r),
		AmountCents:   body.AmountCents,
		Notes:         body.Notes,
		EvidenceURLs:  body.EvidenceURLs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *RentalHandler) LateFee(w http.ResponseWriter, r *http.Request) {
	action, err := h.rentalSvc.LateFee(r.Context(), callerID(r), transactionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (h *RentalHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.rentalSvc.GetPaymentStatus(r.Context(), callerID(r), transactionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func callerID(r *http.Request) string {
	userID, _ := UserIDFromContext(r.Context())
	return userID
}

func transactionID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// decodeBody reads a JSON body. When required is false an empty body is accepted.
func decodeBody(r *http.Request, v any, required bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return domain.Validation("request body is required")
		}
		return domain.Validation("malformed request body: %v", err)
	}
	return nil
}

// parseDate accepts yyyy-mm-dd or RFC 3339
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, domain.Validation("start_date and end_date are required")
	}
	if t, err := utils.ParseDate(s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.Validation("invalid date %q", s)
	}
	return t.UTC(), nil
}
