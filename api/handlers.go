package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/sessionvault/identity"
	"github.com/jmcleod/sessionvault/session"
)

const maxBodySize = 1 << 16

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// StartSession unlocks the identity with the supplied passphrase and starts
// a new session, replacing any existing one.
func (a *API) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "passphrase is required")
		return
	}

	id, err := a.loadIdentity()
	if err != nil {
		a.audit.logFailure(AuditUnlockFailure, r, "identity unavailable")
		mapError(w, err)
		return
	}
	if req.Username != "" && req.Username != id.Username {
		a.rateLimiter.recordFailure(id.Username)
		a.recordUnlockFailure(r, id.Username, "unknown username")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if blocked, retryAfter := a.rateLimiter.check(id.Username); blocked {
		a.audit.logFailure(AuditUnlockRateLimited, r, "too many failed attempts",
			slog.String("username", id.Username))
		writeRateLimited(w, retryAfter)
		return
	}

	privateKey, sessionKey, err := id.Unlock(req.Passphrase)
	if err != nil {
		if errors.Is(err, identity.ErrBadPassphrase) {
			a.rateLimiter.recordFailure(id.Username)
			a.recordUnlockFailure(r, id.Username, "bad passphrase")
		}
		mapError(w, err)
		return
	}
	defer sessionKey.Destroy()
	a.rateLimiter.recordSuccess(id.Username)

	durable, err := a.manager.StartSession(r.Context(), id.Username, id.KeyPair(), privateKey, sessionKey)
	if err != nil {
		privateKey.Destroy()
		mapError(w, err)
		return
	}
	if !durable {
		a.metrics.persistFailures.Inc()
		a.audit.logRequest(AuditPersistFailure, r, slog.String("username", id.Username))
	}

	view, _ := a.manager.CurrentSession()
	writeJSON(w, http.StatusCreated, StartSessionResponse{Durable: durable, Session: view})
}

func (a *API) recordUnlockFailure(r *http.Request, username, reason string) {
	a.metrics.unlockFailures.Inc()
	a.audit.logFailure(AuditUnlockFailure, r, reason, slog.String("username", username))
}

// GetSession reports the current state and remaining lifetime.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status(r))
}

func (a *API) status(r *http.Request) SessionStatusResponse {
	resp := SessionStatusResponse{State: a.manager.CurrentState()}
	if view, ok := a.manager.CurrentSession(); ok {
		resp.State = view.State
		resp.Session = &view
	}
	if resp.State.Live() {
		resp.RemainingSeconds = int64(a.manager.RemainingTime(r.Context()).Seconds())
	}
	return resp
}

// RestoreSession adopts a persisted session in the locked state.
func (a *API) RestoreSession(w http.ResponseWriter, r *http.Request) {
	restored := a.manager.TryRestoreSession(r.Context())
	writeJSON(w, http.StatusOK, RestoreResponse{Restored: restored, State: a.manager.CurrentState()})
}

// ExtendSession pushes out the session expiry.
func (a *API) ExtendSession(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if !a.manager.CurrentState().Live() {
		mapError(w, session.ErrNoSession)
		return
	}

	var err error
	if req.Minutes > 0 {
		err = a.manager.ExtendSession(r.Context(), req.Minutes)
	} else if req.Minutes < 0 {
		err = session.ErrInvalidArgument
	} else {
		err = a.manager.ExtendSession(r.Context())
	}
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logRequest(AuditSessionExtended, r, slog.Int("minutes", req.Minutes))
	writeJSON(w, http.StatusOK, a.status(r))
}

// RecordActivity defers the idle lock of an unlocked session.
func (a *API) RecordActivity(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Touch(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnlockSession would re-authenticate a locked session.
func (a *API) UnlockSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := a.manager.Unlock(r.Context(), req.Passphrase); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.status(r))
}

// EndSession terminates the session and clears persisted data.
func (a *API) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.EndSession(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness along with the current session state.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", State: a.manager.CurrentState()})
}
