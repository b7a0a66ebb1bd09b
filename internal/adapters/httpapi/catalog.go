package httpapi

import (
	"net/http"

	"nexurabuild/internal/core"
	"nexurabuild/pkg/domain"
)

// handleListApartments pages with ?page=&size=; without size every apartment
// is returned.
func (h *Handler) handleListApartments(w http.ResponseWriter, r *http.Request) {
	page, okPage := queryInt(r, "page")
	size, okSize := queryInt(r, "size")
	if !okPage || !okSize {
		writeError(w, http.StatusBadRequest, core.KindValidation, "page and size must be non-negative integers")
		return
	}
	apartments, err := h.svc.ListApartments(r.Context(), page, size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apartments)
}

func (h *Handler) handleGetApartment(w http.ResponseWriter, r *http.Request) {
	apt, err := h.svc.GetApartment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

func (h *Handler) handleCountApartments(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CountApartments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListAnnouncements(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGetAnnouncement(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetAnnouncement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	var in domain.Announcement
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.CreateAnnouncement(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpdateAnnouncement(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	var in domain.Announcement
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.UpdateAnnouncement(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	res, err := h.svc.DeleteAnnouncement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.svc.ListCoupons(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupons)
}

func (h *Handler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.svc.GetCoupon(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

func (h *Handler) handleCreateCoupon(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	var in domain.Coupon
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.CreateCoupon(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpdateCoupon(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	var in domain.Coupon
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.UpdateCoupon(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteCoupon(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	res, err := h.svc.DeleteCoupon(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
