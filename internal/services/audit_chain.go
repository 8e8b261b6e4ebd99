package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/clinitrust/internal/metrics"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/google/uuid"
)

const (
	maxAppendRetries = 5
	verifyBatchSize  = 500
)

// Verification failure reasons
const (
	ReasonMissingEntry     = "entry missing from sequence"
	ReasonOutOfOrder       = "sequence number out of order"
	ReasonBrokenLink       = "prev_hash does not match predecessor"
	ReasonContentMismatch  = "content hash mismatch"
	ReasonTimestampReverse = "timestamp precedes predecessor"
)

// LedgerStore persists audit entries. Insert must reject an entry whose seq
// or prev_hash is already taken with models.ErrConflict.
type LedgerStore interface {
	Tail(ctx context.Context) (*models.AuditEntry, error)
	Insert(ctx context.Context, entry *models.AuditEntry) error
	Range(ctx context.Context, fromSeq int64, limit int) ([]*models.AuditEntry, error)
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// AuditChain is the append-only, hash-linked ledger.
type AuditChain struct {
	mu      sync.Mutex
	store   LedgerStore
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewAuditChain(store LedgerStore, m *metrics.Metrics) *AuditChain {
	return &AuditChain{
		store:   store,
		metrics: m,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// Append links event onto the current tail and stores it. Appends are
// serialized in process; a conflicting insert from another process causes
// the tail to be re-read and the entry rebuilt.
func (c *AuditChain) Append(ctx context.Context, event models.AuditEvent) (*models.AuditEntry, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		prevSeq, prevHash, prevTime, err := c.readTail(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read ledger tail: %w", models.ErrAuditWriteFailure, err)
		}

		now := c.now()
		if now.Before(prevTime) {
			now = prevTime
		}

		entry, err := models.NewAuditEntry(event, prevSeq, prevHash, c.newID(), now)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrAuditWriteFailure, err)
		}

		err = c.store.Insert(ctx, entry)
		if err == nil {
			c.metrics.IncAuditAppend(entry.EventCategory)
			c.metrics.ObserveAuditAppend(time.Since(start).Seconds())
			return entry, nil
		}
		if !errors.Is(err, models.ErrConflict) || attempt >= maxAppendRetries {
			return nil, fmt.Errorf("%w: failed to insert entry %d: %w", models.ErrAuditWriteFailure, entry.Seq, err)
		}
		c.metrics.IncAuditAppendRetry()
	}
}

func (c *AuditChain) readTail(ctx context.Context) (int64, string, time.Time, error) {
	tail, err := c.store.Tail(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return 0, models.GenesisHash, time.Time{}, nil
	}
	if err != nil {
		return 0, "", time.Time{}, err
	}
	return tail.Seq, tail.ContentHash, tail.Timestamp, nil
}

// VerifyOptions bounds the positions a verification reports. Linkage is
// always recomputed from genesis regardless of From.
type VerifyOptions struct {
	From       int64 // first position to report, 0 means 1
	To         int64 // last position to check, 0 means the tail
	Exhaustive bool  // keep walking after the first failure
}

type VerificationFailure struct {
	Position int64  `json:"position"`
	Reason   string `json:"reason"`
}

type VerificationResult struct {
	Valid        bool                  `json:"valid"`
	Checked      int64                 `json:"checked"`
	Length       int64                 `json:"length"`
	TailHash     string                `json:"tail_hash"`
	FirstInvalid *int64                `json:"first_invalid,omitempty"`
	Failures     []VerificationFailure `json:"failures,omitempty"`
}

// Verify walks the ledger from genesis, carrying the recomputed predecessor
// hash forward. Each entry must link to both the recomputed and the stored
// hash of its predecessor, and every position after a failure fails too. When the chain is broken it returns the result together with
// a *models.IntegrityViolationError for the first failing position; other
// errors mean the ledger could not be read.
func (c *AuditChain) Verify(ctx context.Context, opts VerifyOptions) (*VerificationResult, error) {
	result, err := c.verify(ctx, opts)
	if err != nil {
		c.metrics.RecordVerification(metrics.ResultError, 0)
		return nil, err
	}

	if result.Valid {
		c.metrics.RecordVerification(metrics.ResultValid, result.Checked)
		return result, nil
	}

	c.metrics.RecordVerification(metrics.ResultTampered, result.Checked)
	first := result.Failures[0]
	return result, &models.IntegrityViolationError{Position: first.Position, Reason: first.Reason}
}

func (c *AuditChain) verify(ctx context.Context, opts VerifyOptions) (*VerificationResult, error) {
	from := opts.From
	if from < 1 {
		from = 1
	}

	result := &VerificationResult{Valid: true, TailHash: models.GenesisHash}
	expectedSeq := int64(1)
	expectedPrev := models.GenesisHash
	prevStored := models.GenesisHash
	var prevTime time.Time

	// once a position fails, nothing after it can be trusted
	broken := false

	fail := func(position int64, reason string) bool {
		if position < from {
			return false
		}
		result.Failures = append(result.Failures, VerificationFailure{Position: position, Reason: reason})
		if result.Valid {
			result.Valid = false
			p := position
			result.FirstInvalid = &p
		}
		return !opts.Exhaustive
	}

	cursor := int64(1)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := c.store.Range(ctx, cursor, verifyBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit entries from %d: %w", cursor, err)
		}

		for _, e := range batch {
			if opts.To > 0 && e.Seq > opts.To {
				return result, nil
			}

			stop := false
			switch {
			case e.Seq > expectedSeq:
				broken = true
				stop = fail(expectedSeq, ReasonMissingEntry)
			case e.Seq < expectedSeq:
				broken = true
				stop = fail(e.Seq, ReasonOutOfOrder)
			}
			if stop {
				return result, nil
			}

			hash, err := e.ComputeHash(expectedPrev)
			if err != nil {
				return nil, err
			}

			reason := ""
			switch {
			case e.PrevHash != expectedPrev, e.PrevHash != prevStored:
				reason = ReasonBrokenLink
			case e.ContentHash != hash:
				reason = ReasonContentMismatch
			case e.Timestamp.Before(prevTime):
				reason = ReasonTimestampReverse
			case broken:
				reason = ReasonBrokenLink
			}
			if reason != "" {
				broken = true
				stop = fail(e.Seq, reason)
			}

			if e.Seq >= from {
				result.Checked++
			}
			result.Length = e.Seq
			result.TailHash = e.ContentHash
			if stop {
				return result, nil
			}

			expectedSeq = e.Seq + 1
			expectedPrev = hash
			prevStored = e.ContentHash
			prevTime = e.Timestamp
		}

		if len(batch) < verifyBatchSize {
			return result, nil
		}
		cursor = batch[len(batch)-1].Seq + 1
	}
}

// List returns ledger entries matching filter, newest first.
func (c *AuditChain) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	entries, err := c.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// Tail returns the last n entries in ledger order.
func (c *AuditChain) Tail(ctx context.Context, n int) ([]*models.AuditEntry, error) {
	if n <= 0 {
		return []*models.AuditEntry{}, nil
	}

	entries, err := c.store.List(ctx, models.AuditFilter{Limit: n})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger tail: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
