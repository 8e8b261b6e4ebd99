package repositories

import (
	"context"
	"slices"
	"sync"

	"github.com/BradenHooton/clinitrust/internal/models"
)

// MemoryAuditEntryRepository is an in-process ledger store with the same
// uniqueness rules as the audit_entries table.
type MemoryAuditEntryRepository struct {
	mu         sync.RWMutex
	entries    []*models.AuditEntry
	prevHashes map[string]struct{}
}

func NewMemoryAuditEntryRepository() *MemoryAuditEntryRepository {
	return &MemoryAuditEntryRepository{prevHashes: make(map[string]struct{})}
}

func cloneEntry(e *models.AuditEntry) *models.AuditEntry {
	c := *e
	if e.Changes != nil {
		c.Changes = make(models.AuditChanges, len(e.Changes))
		for k, v := range e.Changes {
			c.Changes[k] = v
		}
	}
	return &c
}

func (r *MemoryAuditEntryRepository) Tail(ctx context.Context) (*models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil, models.ErrNotFound
	}
	return cloneEntry(r.entries[len(r.entries)-1]), nil
}

func (r *MemoryAuditEntryRepository) Insert(ctx context.Context, e *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Seq != int64(len(r.entries))+1 {
		return models.ErrConflict
	}
	if _, taken := r.prevHashes[e.PrevHash]; taken {
		return models.ErrConflict
	}

	r.entries = append(r.entries, cloneEntry(e))
	r.prevHashes[e.PrevHash] = struct{}{}
	return nil
}

func (r *MemoryAuditEntryRepository) Range(ctx context.Context, fromSeq int64, limit int) ([]*models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fromSeq < 1 {
		fromSeq = 1
	}
	out := make([]*models.AuditEntry, 0)
	for i := fromSeq - 1; i < int64(len(r.entries)) && len(out) < limit; i++ {
		out = append(out, cloneEntry(r.entries[i]))
	}
	return out, nil
}

func (r *MemoryAuditEntryRepository) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	out := make([]*models.AuditEntry, 0)
	skipped := 0
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		if !matchesFilter(e, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func matchesFilter(e *models.AuditEntry, f models.AuditFilter) bool {
	if f.ActorID != "" && (e.ActorID == nil || *e.ActorID != f.ActorID) {
		return false
	}
	if f.EntityType != "" && (e.EntityType == nil || *e.EntityType != f.EntityType) {
		return false
	}
	if f.EntityID != "" && (e.EntityID == nil || *e.EntityID != f.EntityID) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, e.EventCategory) {
		return false
	}
	return true
}
