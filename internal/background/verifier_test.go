package background

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/repositories"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	mu      sync.Mutex
	results []*services.VerificationResult
	prefix  *services.VerificationResult
	err     error
	calls   []services.VerifyOptions
}

func (s *stubVerifier) Verify(ctx context.Context, opts services.VerifyOptions) (*services.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	if s.err != nil {
		return nil, s.err
	}
	if opts.To > 0 {
		return s.prefix, nil
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r, nil
}

func newTestVerifier(chain ChainVerifier) (*LedgerVerifier, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewLedgerVerifier(chain, logger, pkglogger.NewAuditLogger(logger), time.Hour), &buf
}

func TestLedgerVerifier_RunOnce_SetsCheckpoint(t *testing.T) {
	repo := repositories.NewMemoryAuditEntryRepository()
	chain := services.NewAuditChain(repo, nil)
	for i := 0; i < 3; i++ {
		_, err := chain.Append(context.Background(), models.AuditEvent{
			EventCategory: models.AuditCategoryDataAccess,
			EventType:     "patient_view",
			Action:        models.AuditActionRead,
			Status:        models.AuditStatusSuccess,
		})
		require.NoError(t, err)
	}

	v, _ := newTestVerifier(chain)
	_, ok := v.Checkpoint()
	assert.False(t, ok)

	require.NoError(t, v.RunOnce(context.Background()))

	cp, ok := v.Checkpoint()
	require.True(t, ok)
	assert.Equal(t, int64(3), cp.Length)

	tail, err := repo.Tail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tail.ContentHash, cp.TailHash)
}

func TestLedgerVerifier_RunOnce_DetectsTruncation(t *testing.T) {
	stub := &stubVerifier{results: []*services.VerificationResult{
		{Valid: true, Length: 5, TailHash: "h5"},
		{Valid: true, Length: 3, TailHash: "h3"},
	}}
	v, logs := newTestVerifier(stub)

	require.NoError(t, v.RunOnce(context.Background()))
	err := v.RunOnce(context.Background())

	var violation *models.IntegrityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, int64(4), violation.Position)
	assert.Equal(t, ReasonTruncated, violation.Reason)
	assert.Contains(t, logs.String(), "audit chain integrity violation")

	cp, _ := v.Checkpoint()
	assert.Equal(t, int64(5), cp.Length, "checkpoint is kept after a violation")
}

func TestLedgerVerifier_RunOnce_DetectsRewrittenTail(t *testing.T) {
	stub := &stubVerifier{results: []*services.VerificationResult{
		{Valid: true, Length: 5, TailHash: "h5"},
		{Valid: true, Length: 5, TailHash: "forged"},
	}}
	v, _ := newTestVerifier(stub)

	require.NoError(t, v.RunOnce(context.Background()))
	assert.ErrorIs(t, v.RunOnce(context.Background()), models.ErrIntegrityViolation)
}

func TestLedgerVerifier_RunOnce_GrowthChecksPrefix(t *testing.T) {
	stub := &stubVerifier{
		results: []*services.VerificationResult{
			{Valid: true, Length: 3, TailHash: "h3"},
			{Valid: true, Length: 6, TailHash: "h6"},
		},
		prefix: &services.VerificationResult{Valid: true, Length: 3, TailHash: "h3"},
	}
	v, _ := newTestVerifier(stub)

	require.NoError(t, v.RunOnce(context.Background()))
	require.NoError(t, v.RunOnce(context.Background()))

	assert.Equal(t, int64(3), stub.calls[2].To)
	cp, _ := v.Checkpoint()
	assert.Equal(t, int64(6), cp.Length)

	stub.results = []*services.VerificationResult{{Valid: true, Length: 8, TailHash: "h8"}}
	stub.prefix = &services.VerificationResult{Valid: true, Length: 6, TailHash: "other"}
	assert.ErrorIs(t, v.RunOnce(context.Background()), models.ErrIntegrityViolation)
}

func TestLedgerVerifier_RunOnce_ReportsChainViolation(t *testing.T) {
	stub := &stubVerifier{err: &models.IntegrityViolationError{Position: 7, Reason: "content hash mismatch"}}
	v, logs := newTestVerifier(stub)

	err := v.RunOnce(context.Background())
	assert.ErrorIs(t, err, models.ErrIntegrityViolation)
	assert.Contains(t, logs.String(), `"position":7`)
}

func TestLedgerVerifier_RunOnce_StorageError(t *testing.T) {
	v, logs := newTestVerifier(&stubVerifier{err: errors.New("connection refused")})

	err := v.RunOnce(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrIntegrityViolation)
	assert.Contains(t, logs.String(), "ledger verification failed")
}

func TestLedgerVerifier_StartStop(t *testing.T) {
	stub := &stubVerifier{results: []*services.VerificationResult{{Valid: true}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := NewLedgerVerifier(stub, logger, pkglogger.NewAuditLogger(logger), 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		v.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.calls) >= 2
	}, time.Second, 5*time.Millisecond)

	v.Stop()
	v.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("verifier did not stop")
	}
}
