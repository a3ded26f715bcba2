package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditTokenVerified    AuditEvent = "token_verified"
	AuditTokenRejected    AuditEvent = "token_rejected"
	AuditUserCreated      AuditEvent = "user_created"
	AuditUsersListed      AuditEvent = "users_listed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	store   *auditStore
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry and forwards it to whichever
// sinks are configured.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	ts := time.Now().UTC().Format(time.RFC3339)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", ts),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.store == nil && al.webhook == nil {
		return
	}
	evt := webhookEvent{
		Event:      string(event),
		RemoteAddr: r.RemoteAddr,
		Timestamp:  ts,
	}
	for _, a := range attrs {
		if a.Key == "username" {
			evt.Username = a.Value.String()
			continue
		}
		if evt.Attrs == nil {
			evt.Attrs = make(map[string]string)
		}
		evt.Attrs[a.Key] = a.Value.String()
	}
	if al.store != nil {
		if err := al.store.append(r.Context(), evt); err != nil {
			al.logger.Warn("persisting audit entry", "event", evt.Event, "error", err)
		}
	}
	if al.webhook != nil {
		al.webhook.enqueue(evt)
	}
}

// logEvent is a convenience for events tied to a username.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("username", username),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
