package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuthAttempt describes one pass through the authentication gate
type AuthAttempt struct {
	Outcome    string // success, invalid_credentials, locked, disabled
	UserID     string
	Identifier string
	IPAddress  string
	Success    bool
}

// AuditLogger is the structured-log side channel of the audit trail. It is
// where ledger write failures and integrity violations end up, so it must
// never depend on the ledger itself.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthAttempt logs authentication attempts
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, attempt AuthAttempt) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("outcome", attempt.Outcome),
		slog.Bool("success", attempt.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if attempt.UserID != "" {
		attrs = append(attrs, slog.String("user_id", attempt.UserID))
	}
	if attempt.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", SanitizedIdentifier(attempt.Identifier)))
	}
	if attempt.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", attempt.IPAddress))
	}

	level := slog.LevelInfo
	if !attempt.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogDropped records an audit event the ledger could not accept, with the
// full event so it can be replayed by an operator.
func (al *AuditLogger) LogDropped(ctx context.Context, event any, err error) {
	al.logger.LogAttrs(ctx, slog.LevelError, "audit event dropped",
		slog.String("audit_type", "ledger"),
		slog.Any("event", event),
		slog.Any("error", err),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339Nano)),
	)
}

// LogIntegrityViolation reports a broken ledger position
func (al *AuditLogger) LogIntegrityViolation(ctx context.Context, position int64, reason string) {
	al.logger.LogAttrs(ctx, slog.LevelError, "audit chain integrity violation",
		slog.String("audit_type", "ledger"),
		slog.Int64("position", position),
		slog.String("reason", reason),
	)
}

// LogAccountAction logs administrative account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, actorID, accountID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("actor_id", actorID),
		slog.String("user_id", accountID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
