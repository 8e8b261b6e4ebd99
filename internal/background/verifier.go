package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
)

const (
	ReasonTruncated = "ledger shorter than last verified checkpoint"
	ReasonRewritten = "entry at last verified checkpoint changed"
)

// ChainVerifier walks the audit ledger.
type ChainVerifier interface {
	Verify(ctx context.Context, opts services.VerifyOptions) (*services.VerificationResult, error)
}

// Checkpoint is the ledger length and tail hash seen by the last clean run.
// The chain alone cannot reveal entries removed from its end; comparing
// against a checkpoint can.
type Checkpoint struct {
	Length   int64
	TailHash string
	At       time.Time
}

// LedgerVerifier periodically re-verifies the audit ledger and reports
// integrity violations through the audit log.
type LedgerVerifier struct {
	chain       ChainVerifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	interval    time.Duration
	timeout     time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once

	mu         sync.Mutex
	checkpoint *Checkpoint
}

// NewLedgerVerifier creates a new verifier
func NewLedgerVerifier(
	chain ChainVerifier,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	interval time.Duration,
) *LedgerVerifier {
	return &LedgerVerifier{
		chain:       chain,
		logger:      logger,
		auditLogger: auditLogger,
		interval:    interval,
		timeout:     5 * time.Minute,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic verification task
func (v *LedgerVerifier) Start(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	// Run immediately on startup
	_ = v.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			_ = v.RunOnce(ctx)
		case <-v.stopCh:
			v.logger.Info("ledger verifier stopped")
			return
		case <-ctx.Done():
			v.logger.Info("ledger verifier context cancelled")
			return
		}
	}
}

// RunOnce verifies the whole ledger and checks it against the checkpoint.
// It returns a *models.IntegrityViolationError when tampering is found.
func (v *LedgerVerifier) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	result, err := v.chain.Verify(runCtx, services.VerifyOptions{})
	if err != nil {
		var violation *models.IntegrityViolationError
		if errors.As(err, &violation) {
			v.auditLogger.LogIntegrityViolation(ctx, violation.Position, violation.Reason)
			return err
		}
		v.logger.Error("ledger verification failed", slog.Any("error", err))
		return err
	}

	v.mu.Lock()
	cp := v.checkpoint
	v.mu.Unlock()

	if cp != nil {
		if violation := v.compare(runCtx, cp, result); violation != nil {
			v.auditLogger.LogIntegrityViolation(ctx, violation.Position, violation.Reason)
			return violation
		}
	}

	v.mu.Lock()
	v.checkpoint = &Checkpoint{Length: result.Length, TailHash: result.TailHash, At: time.Now().UTC()}
	v.mu.Unlock()

	v.logger.Info("ledger verified",
		slog.Int64("entries", result.Checked),
		slog.String("tail_hash", result.TailHash),
	)
	return nil
}

func (v *LedgerVerifier) compare(ctx context.Context, cp *Checkpoint, result *services.VerificationResult) *models.IntegrityViolationError {
	switch {
	case result.Length < cp.Length:
		return &models.IntegrityViolationError{Position: result.Length + 1, Reason: ReasonTruncated}
	case result.Length == cp.Length:
		if result.TailHash != cp.TailHash {
			return &models.IntegrityViolationError{Position: cp.Length, Reason: ReasonRewritten}
		}
		return nil
	}

	// the ledger grew; the old tail must still be where it was
	prefix, err := v.chain.Verify(ctx, services.VerifyOptions{To: cp.Length})
	if err != nil {
		v.logger.Error("checkpoint comparison failed", slog.Any("error", err))
		return nil
	}
	if prefix.TailHash != cp.TailHash {
		return &models.IntegrityViolationError{Position: cp.Length, Reason: ReasonRewritten}
	}
	return nil
}

// Checkpoint returns the last clean checkpoint, if any.
func (v *LedgerVerifier) Checkpoint() (Checkpoint, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.checkpoint == nil {
		return Checkpoint{}, false
	}
	return *v.checkpoint, true
}

// Stop signals the verifier to stop
func (v *LedgerVerifier) Stop() {
	v.stopOnce.Do(func() { close(v.stopCh) })
}
