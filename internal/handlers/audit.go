package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
)

// LedgerReader is the read side of the audit chain.
type LedgerReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
	Verify(ctx context.Context, opts services.VerifyOptions) (*services.VerificationResult, error)
}

// AuditHandler handles audit ledger HTTP requests
type AuditHandler struct {
	ledger      LedgerReader
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(ledger LedgerReader, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuditHandler {
	return &AuditHandler{
		ledger:      ledger,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// List handles GET /api/admin/audit. Filters: actor_id, entity_type,
// entity_id, category (repeatable), limit, offset. Newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(r)

	entries, err := h.ledger.List(r.Context(), models.AuditFilter{
		ActorID:    q.Get("actor_id"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Categories: q["category"],
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.logger.Error("failed to list audit entries", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve audit entries")
		return
	}

	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// Verify handles GET /api/admin/audit/verify?from=&to=&all=. A broken chain
// is still a 200 with valid=false; only an unreadable ledger is a 500.
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var opts services.VerifyOptions
	var err error
	if opts.From, err = positionParam(q.Get("from")); err != nil {
		pkghttp.WriteBadRequest(w, "from must be a non-negative integer")
		return
	}
	if opts.To, err = positionParam(q.Get("to")); err != nil {
		pkghttp.WriteBadRequest(w, "to must be a non-negative integer")
		return
	}
	if opts.To > 0 && opts.From > opts.To {
		pkghttp.WriteBadRequest(w, "from must not exceed to")
		return
	}
	opts.Exhaustive, _ = strconv.ParseBool(q.Get("all"))

	result, err := h.ledger.Verify(r.Context(), opts)
	if err != nil {
		var iv *models.IntegrityViolationError
		if !errors.As(err, &iv) || result == nil {
			h.logger.Error("audit verification could not run", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to verify audit ledger")
			return
		}
		h.auditLogger.LogIntegrityViolation(r.Context(), iv.Position, iv.Reason)
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func positionParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("invalid position")
	}
	return n, nil
}
