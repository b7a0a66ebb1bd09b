package httpapi

import (
	"net/http"

	"nexurabuild/internal/core"
	"nexurabuild/pkg/domain"
)

func (h *Handler) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	var req core.PaymentIntentRequest
	if !decode(w, r, &req) {
		return
	}
	intent, err := h.svc.CreatePaymentIntent(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	var p domain.Payment
	if !decode(w, r, &p) {
		return
	}
	res, err := h.svc.RecordPayment(r.Context(), caller, p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handlePaymentHistory(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	payments, err := h.svc.PaymentHistory(r.Context(), caller, r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}
