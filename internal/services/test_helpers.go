package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
)

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	GenerateAccessTokenFunc func(userID, username, role string) (string, error)
}

func (m *MockTokenIssuer) GenerateAccessToken(userID, username, role string) (string, error) {
	if m.GenerateAccessTokenFunc != nil {
		return m.GenerateAccessTokenFunc(userID, username, role)
	}
	return "token-" + userID, nil
}

// MockTimingDelay implements TimingDelay for testing
type MockTimingDelay struct {
	WaitFromFunc func(startTime time.Time, succeeded bool)
}

func (m *MockTimingDelay) WaitFrom(startTime time.Time, succeeded bool) {
	if m.WaitFromFunc != nil {
		m.WaitFromFunc(startTime, succeeded)
	}
}

// RecordedAuth is one call captured by MockAuditRecorder.
type RecordedAuth struct {
	EventType string
	AccountID string
	Success   bool
	Reason    string
}

// RecordedAdminAction is one call captured by MockAuditRecorder.
type RecordedAdminAction struct {
	ActorID   string
	EventType string
	Action    string
	AccountID string
	Changes   models.AuditChanges
}

// MockAuditRecorder implements AuthRecorder and AdminRecorder and keeps
// every call. Safe for concurrent use.
type MockAuditRecorder struct {
	mu      sync.Mutex
	Auth    []RecordedAuth
	Actions []RecordedAdminAction
}

func (m *MockAuditRecorder) RecordAuth(ctx context.Context, eventType, accountID string, success bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Auth = append(m.Auth, RecordedAuth{EventType: eventType, AccountID: accountID, Success: success, Reason: reason})
}

func (m *MockAuditRecorder) RecordAdminAction(ctx context.Context, actorID, eventType, action, accountID string, changes models.AuditChanges) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actions = append(m.Actions, RecordedAdminAction{
		ActorID:   actorID,
		EventType: eventType,
		Action:    action,
		AccountID: accountID,
		Changes:   changes,
	})
}

// CountAuth returns how many auth events of eventType were recorded.
func (m *MockAuditRecorder) CountAuth(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Auth {
		if r.EventType == eventType {
			n++
		}
	}
	return n
}

// MockAuditAppender implements AuditAppender for testing
type MockAuditAppender struct {
	AppendFunc func(ctx context.Context, event models.AuditEvent) (*models.AuditEntry, error)
}

func (m *MockAuditAppender) Append(ctx context.Context, event models.AuditEvent) (*models.AuditEntry, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, event)
	}
	return &models.AuditEntry{Seq: 1}, nil
}

// MockLedgerStore implements LedgerStore for testing
type MockLedgerStore struct {
	TailFunc   func(ctx context.Context) (*models.AuditEntry, error)
	InsertFunc func(ctx context.Context, entry *models.AuditEntry) error
	RangeFunc  func(ctx context.Context, fromSeq int64, limit int) ([]*models.AuditEntry, error)
	ListFunc   func(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

func (m *MockLedgerStore) Tail(ctx context.Context) (*models.AuditEntry, error) {
	if m.TailFunc != nil {
		return m.TailFunc(ctx)
	}
	return nil, models.ErrNotFound
}

func (m *MockLedgerStore) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	return nil
}

func (m *MockLedgerStore) Range(ctx context.Context, fromSeq int64, limit int) ([]*models.AuditEntry, error) {
	if m.RangeFunc != nil {
		return m.RangeFunc(ctx, fromSeq, limit)
	}
	return []*models.AuditEntry{}, nil
}

func (m *MockLedgerStore) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return []*models.AuditEntry{}, nil
}

// MockMailer implements Mailer for testing
type MockMailer struct {
	SendTemporaryPasswordFunc func(ctx context.Context, email, username, tempPassword string) error
}

func (m *MockMailer) SendTemporaryPassword(ctx context.Context, email, username, tempPassword string) error {
	if m.SendTemporaryPasswordFunc != nil {
		return m.SendTemporaryPasswordFunc(ctx, email, username, tempPassword)
	}
	return nil
}
