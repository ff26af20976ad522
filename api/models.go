package api

import "github.com/jmcleod/sessionvault/session"

// StartSessionRequest is the body of POST /session.
type StartSessionRequest struct {
	Username   string `json:"username,omitempty"`
	Passphrase string `json:"passphrase"`
}

// StartSessionResponse reports the new session and whether it was persisted.
type StartSessionResponse struct {
	Durable bool         `json:"durable"`
	Session session.View `json:"session"`
}

// SessionStatusResponse is returned by GET /session and the extend endpoint.
type SessionStatusResponse struct {
	State            session.State `json:"state"`
	Session          *session.View `json:"session,omitempty"`
	RemainingSeconds int64         `json:"remainingSeconds"`
}

// RestoreResponse is returned by POST /session/restore.
type RestoreResponse struct {
	Restored bool          `json:"restored"`
	State    session.State `json:"state"`
}

// ExtendRequest is the optional body of POST /session/extend.
type ExtendRequest struct {
	Minutes int `json:"minutes,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string        `json:"status"`
	State  session.State `json:"state"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
