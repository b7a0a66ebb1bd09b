package httpapi

import (
	"net/http"

	"nexurabuild/internal/core"
	"nexurabuild/pkg/domain"
)

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	var req domain.Agreement
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Apply(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	agreement, err := h.svc.Accept(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (h *Handler) handleCancelByApartment(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	res, err := h.svc.CancelByApartment(r.Context(), caller, r.PathValue("apartment_no"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCancelByEmail(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	res, err := h.svc.CancelByEmail(r.Context(), caller, r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Deleted)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	res, err := h.svc.RemoveMember(r.Context(), caller, r.PathValue("email"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.User)
}

func (h *Handler) handleListAgreements(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	agreements, err := h.svc.ListAgreements(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreements)
}

// handleMemberAgreement writes null when the user holds no agreement.
func (h *Handler) handleMemberAgreement(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	email := r.URL.Query().Get("email")
	if !selfOrAdmin(w, caller, email) {
		return
	}
	agreement, found, err := h.svc.AgreementFor(r.Context(), email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (h *Handler) handleAgreementArchive(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	entries, err := h.svc.AgreementArchive(r.Context(), caller, r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleConsistency(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	res, err := h.svc.Audit(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if res.Violations == nil {
		res.Violations = []domain.Violation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocking":   res.HasBlocking(),
		"violations": res.Violations,
	})
}
