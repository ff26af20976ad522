package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/sessionvault/identity"
	"github.com/jmcleod/sessionvault/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrLocked):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, session.ErrUnlockNotImplemented):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, identity.ErrBadPassphrase):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrInvalidIdentity):
		writeError(w, http.StatusInternalServerError, "identity unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
