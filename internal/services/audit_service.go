package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/clinitrust/internal/metrics"
	"github.com/BradenHooton/clinitrust/internal/models"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
)

const defaultAuditTimeout = 5 * time.Second

// AuditAppender is the ledger side of the audit writer.
type AuditAppender interface {
	Append(ctx context.Context, event models.AuditEvent) (*models.AuditEntry, error)
}

// AuditService records audit events with dual-write pattern (slog + ledger).
// Recording never fails the caller: events the ledger rejects are written to
// the audit log with their full content and counted.
type AuditService struct {
	chain       AuditAppender
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	timeout     time.Duration
}

// NewAuditService creates a new AuditService
func NewAuditService(chain AuditAppender, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, m *metrics.Metrics) *AuditService {
	return &AuditService{
		chain:       chain,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		timeout:     defaultAuditTimeout,
	}
}

// Record appends event to the ledger. Request metadata stored on ctx fills
// any client fields the caller left empty. The append outlives cancellation
// of ctx so an aborted request still leaves its trail.
func (s *AuditService) Record(ctx context.Context, event models.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.drop(ctx, event, metrics.ReasonPanic, fmt.Errorf("%w: panic: %v", models.ErrAuditWriteFailure, r))
		}
	}()

	if meta, ok := pkghttp.ClientMetaFromContext(ctx); ok {
		event.IPAddress = orString(event.IPAddress, meta.IPAddress)
		event.UserAgent = orString(event.UserAgent, meta.UserAgent)
		event.RequestID = orString(event.RequestID, meta.RequestID)
	}

	if err := event.Validate(); err != nil {
		s.drop(ctx, event, metrics.ReasonValidation, err)
		return
	}

	s.logger.DebugContext(ctx, "audit event",
		slog.String("event_category", event.EventCategory),
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("status", event.Status),
	)

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if _, err := s.chain.Append(appendCtx, event); err != nil {
		reason := metrics.ReasonStorage
		if errors.Is(err, models.ErrInvalidAuditEvent) {
			reason = metrics.ReasonValidation
		}
		s.drop(ctx, event, reason, err)
	}
}

func (s *AuditService) drop(ctx context.Context, event models.AuditEvent, reason string, err error) {
	s.metrics.IncAuditAppendFailure(reason)
	s.auditLogger.LogDropped(ctx, event, err)
}

// RecordAuth records an authentication event about accountID. An empty
// accountID means the identifier did not resolve to an account.
func (s *AuditService) RecordAuth(ctx context.Context, eventType, accountID string, success bool, reason string) {
	action := models.AuditActionLogin
	if eventType == models.AuditEventTypePasswordChange {
		action = models.AuditActionUpdate
	}

	event := models.AuditEvent{
		EventCategory: models.AuditCategoryAuthentication,
		EventType:     eventType,
		Action:        action,
		Status:        models.AuditStatusSuccess,
	}
	if accountID != "" {
		event.ActorID = &accountID
		event.EntityType = strPtr(models.AuditEntityUser)
		event.EntityID = &accountID
	}
	if !success {
		event.Status = models.AuditStatusFailure
		if reason == "" {
			reason = eventType
		}
		event.ErrorMessage = &reason
	}

	s.Record(ctx, event)
}

// RecordAdminAction records an administrative change to accountID.
func (s *AuditService) RecordAdminAction(ctx context.Context, actorID, eventType, action, accountID string, changes models.AuditChanges) {
	event := models.AuditEvent{
		EventCategory: models.AuditCategorySystemAdmin,
		EventType:     eventType,
		Action:        action,
		EntityType:    strPtr(models.AuditEntityUser),
		EntityID:      &accountID,
		Changes:       changes,
		Status:        models.AuditStatusSuccess,
	}
	if actorID != "" {
		event.ActorID = &actorID
	}

	s.Record(ctx, event)
}

func strPtr(s string) *string { return &s }

func orString(current *string, fallback string) *string {
	if current != nil || fallback == "" {
		return current
	}
	return &fallback
}
