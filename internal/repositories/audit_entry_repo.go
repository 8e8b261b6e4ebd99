package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/clinitrust/internal/database"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// AuditEntryRepository is the Postgres ledger store. It only ever inserts;
// UNIQUE(seq) and UNIQUE(prev_hash) turn a lost race for the tail into
// models.ErrConflict.
type AuditEntryRepository struct {
	pool *pgxpool.Pool
}

func NewAuditEntryRepository(db *database.DB) *AuditEntryRepository {
	return &AuditEntryRepository{pool: db.Pool}
}

const auditEntryColumns = `seq, id, timestamp, actor_id, event_category, event_type, action,
	entity_type, entity_id, changes, status, error_message, ip_address, user_agent, request_id,
	prev_hash, content_hash`

func scanAuditEntryRow(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry

	err := row.Scan(
		&e.Seq, &e.ID, &e.Timestamp, &e.ActorID, &e.EventCategory, &e.EventType, &e.Action,
		&e.EntityType, &e.EntityID, &e.Changes, &e.Status, &e.ErrorMessage, &e.IPAddress,
		&e.UserAgent, &e.RequestID, &e.PrevHash, &e.ContentHash,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func scanAuditEntryRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entry rows: %w", err)
	}

	return entries, nil
}

// Tail returns the newest entry, or models.ErrNotFound on an empty ledger.
func (r *AuditEntryRepository) Tail(ctx context.Context) (*models.AuditEntry, error) {
	query := `SELECT ` + auditEntryColumns + ` FROM audit_entries ORDER BY seq DESC LIMIT 1`
	return scanAuditEntryRow(r.pool.QueryRow(ctx, query))
}

func (r *AuditEntryRepository) Insert(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (` + auditEntryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query,
		e.Seq, e.ID, e.Timestamp, e.ActorID, e.EventCategory, e.EventType, e.Action,
		e.EntityType, e.EntityID, e.Changes, e.Status, e.ErrorMessage, e.IPAddress,
		e.UserAgent, e.RequestID, e.PrevHash, e.ContentHash,
	)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if errors.Is(mapped, models.ErrConflict) {
			return mapped
		}
		return fmt.Errorf("failed to insert audit entry: %w", mapped)
	}
	return nil
}

// Range returns up to limit entries with seq >= fromSeq in ascending order.
func (r *AuditEntryRepository) Range(ctx context.Context, fromSeq int64, limit int) ([]*models.AuditEntry, error) {
	query := `SELECT ` + auditEntryColumns + ` FROM audit_entries WHERE seq >= $1 ORDER BY seq ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return scanAuditEntryRows(rows)
}

// List returns entries matching filter, newest first.
func (r *AuditEntryRepository) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if len(filter.Categories) > 0 {
		add("event_category = ANY($%d)", pq.Array(filter.Categories))
	}

	query := `SELECT ` + auditEntryColumns + ` FROM audit_entries`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return scanAuditEntryRows(rows)
}
