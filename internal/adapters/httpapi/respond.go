package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"nexurabuild/internal/core"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Kind    core.ErrorKind `json:"kind"`
	Message string         `json:"message"`
}

var statusByKind = map[core.ErrorKind]int{
	core.KindValidation:       http.StatusBadRequest,
	core.KindUnauthorized:     http.StatusUnauthorized,
	core.KindForbidden:        http.StatusForbidden,
	core.KindNotFound:         http.StatusNotFound,
	core.KindConflict:         http.StatusConflict,
	core.KindPartialFailure:   http.StatusInternalServerError,
	core.KindStoreUnavailable: http.StatusServiceUnavailable,
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	if status, ok := statusByKind[core.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind core.ErrorKind, message string) {
	writeJSON(w, status, errorBody{Kind: kind, Message: message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	message := core.MessageOf(err)
	if kind == "" {
		message = "internal error"
	}
	writeError(w, statusFor(err), kind, message)
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		message := "invalid request body"
		if errors.Is(err, io.EOF) {
			message = "request body is required"
		}
		writeError(w, http.StatusBadRequest, core.KindValidation, message)
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
