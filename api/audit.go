package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/sessionvault/session"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditSessionStarted    AuditEvent = "session_started"
	AuditSessionRestored   AuditEvent = "session_restored"
	AuditSessionLocked     AuditEvent = "session_locked"
	AuditSessionExpired    AuditEvent = "session_expired"
	AuditSessionEnded      AuditEvent = "session_ended"
	AuditSessionClosed     AuditEvent = "session_closed"
	AuditSessionExtended   AuditEvent = "session_extended"
	AuditUnlockFailure     AuditEvent = "unlock_failure"
	AuditUnlockRateLimited AuditEvent = "unlock_rate_limited"
	AuditPersistFailure    AuditEvent = "persist_failure"
)

var transitionEvents = map[string]AuditEvent{
	session.ReasonStarted:  AuditSessionStarted,
	session.ReasonRestored: AuditSessionRestored,
	session.ReasonTimeout:  AuditSessionLocked,
	session.ReasonExpired:  AuditSessionExpired,
	session.ReasonEnded:    AuditSessionEnded,
	session.ReasonClosed:   AuditSessionClosed,
}

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger    *slog.Logger
	anomalies *anomalyCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", baseAttrs...)
	al.anomalies.recordEvent(event)
}

// logRequest writes an audit entry tied to an HTTP request.
func (al *auditLogger) logRequest(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.String("remote_addr", r.RemoteAddr)}, attrs...)
	al.log(r.Context(), event, attrs...)
}

// logFailure logs a failed unlock attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.logRequest(event, r, attrs...)
}

// logTransition records a session state change.
func (al *auditLogger) logTransition(ev session.Event) {
	event, ok := transitionEvents[ev.Reason]
	if !ok {
		event = AuditEvent("session_" + ev.Reason)
	}
	al.log(context.Background(), event,
		slog.String("session_id", ev.SessionID),
		slog.String("from", ev.Previous.String()),
		slog.String("to", ev.Current.String()),
		slog.Time("at", ev.At))
}

func (a *API) onTransition(ev session.Event) {
	a.audit.logTransition(ev)
	a.metrics.observe(ev)
}
