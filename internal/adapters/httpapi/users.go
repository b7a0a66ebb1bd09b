package httpapi

import (
	"net/http"
	"strings"

	"nexurabuild/internal/auth"
	"nexurabuild/internal/core"
	"nexurabuild/pkg/domain"
)

type tokenRequest struct {
	Email string `json:"email"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleIssueToken signs a token for the signed-in email. The role claim is
// informational; authorization always re-reads it from the store.
func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, core.KindValidation, "email is required")
		return
	}
	caller, err := h.svc.ResolveCaller(r.Context(), email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := h.issuer.Issue(auth.Identity{Email: caller.Email, Role: string(caller.Role)})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type existingUserResponse struct {
	Message    string  `json:"message"`
	InsertedID *string `json:"insertedId"`
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if !decode(w, r, &user) {
		return
	}
	res, created, err := h.svc.RegisterUser(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, existingUserResponse{Message: "user already exists"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	email := r.PathValue("email")
	if !selfOrAdmin(w, caller, email) {
		return
	}
	user, err := h.svc.GetUser(r.Context(), email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleIsAdmin(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	email := r.PathValue("email")
	if email != caller.Email {
		writeError(w, http.StatusForbidden, core.KindForbidden, "forbidden access")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"admin": caller.Admin()})
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request, _ core.Caller) {
	members, err := h.svc.ListMembers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	email := r.PathValue("email")
	if !selfOrAdmin(w, caller, email) {
		return
	}
	member, err := h.svc.GetMember(r.Context(), email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// selfOrAdmin writes a 403 unless caller is email or an admin.
func selfOrAdmin(w http.ResponseWriter, caller core.Caller, email string) bool {
	if caller.Admin() || caller.Email == email {
		return true
	}
	writeError(w, http.StatusForbidden, core.KindForbidden, "forbidden access")
	return false
}
