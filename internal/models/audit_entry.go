package models

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash of the first entry ever written.
var GenesisHash = strings.Repeat("0", 64)

// Event categories
const (
	AuditCategoryAuthentication = "authentication"
	AuditCategoryPatientRecords = "patient_records"
	AuditCategoryClinicalData   = "clinical_data"
	AuditCategoryDataAccess     = "data_access"
	AuditCategoryReports        = "reports"
	AuditCategorySystemAdmin    = "system_admin"
)

// Event types emitted by the trust core itself
const (
	AuditEventTypeLoginSuccess    = "login_success"
	AuditEventTypeLoginFailed     = "login_failed"
	AuditEventTypeAccountLocked   = "account_locked"
	AuditEventTypePasswordChange  = "password_change"
	AuditEventTypeAccountUnlock   = "account_unlock"
	AuditEventTypeAttemptsReset   = "failed_attempts_reset"
	AuditEventTypePasswordReset   = "password_reset"
	AuditEventTypeAccountCreate   = "account_create"
	AuditEventTypeAccountUpdate   = "account_update"
	AuditEventTypeAccountActivate = "account_activate"
	AuditEventTypeAccountDisable  = "account_deactivate"
	AuditEventTypeAPIRequest      = "api_request"
)

// Actions
const (
	AuditActionCreate = "create"
	AuditActionRead   = "read"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
	AuditActionLogin  = "login"
	AuditActionLogout = "logout"
	AuditActionExport = "export"
	AuditActionUnlock = "unlock"
	AuditActionReset  = "reset"
)

// Statuses
const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
	AuditStatusPartial = "partial"
)

// Entity types
const (
	AuditEntityUser         = "user"
	AuditEntityPatient      = "patient"
	AuditEntityConsultation = "consultation"
	AuditEntitySystem       = "system"
)

var validCategories = map[string]bool{
	AuditCategoryAuthentication: true,
	AuditCategoryPatientRecords: true,
	AuditCategoryClinicalData:   true,
	AuditCategoryDataAccess:     true,
	AuditCategoryReports:        true,
	AuditCategorySystemAdmin:    true,
}

var validActions = map[string]bool{
	AuditActionCreate: true,
	AuditActionRead:   true,
	AuditActionUpdate: true,
	AuditActionDelete: true,
	AuditActionLogin:  true,
	AuditActionLogout: true,
	AuditActionExport: true,
	AuditActionUnlock: true,
	AuditActionReset:  true,
}

var validStatuses = map[string]bool{
	AuditStatusSuccess: true,
	AuditStatusFailure: true,
	AuditStatusPartial: true,
}

// FieldChange is the before/after pair for one changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AuditChanges maps field name to its before/after values. The ledger stores
// it without interpreting it.
type AuditChanges map[string]FieldChange

// Scan implements sql.Scanner for JSONB
func (c *AuditChanges) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return ErrBadRequest
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]FieldChange
	if err := dec.Decode(&m); err != nil {
		return err
	}
	if len(m) == 0 {
		m = nil
	}
	*c = AuditChanges(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (c AuditChanges) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string]FieldChange(c))
}

// AuditEvent is what collaborators hand to the audit writer.
type AuditEvent struct {
	ActorID       *string      `json:"actor_id,omitempty"`
	EventCategory string       `json:"event_category"`
	EventType     string       `json:"event_type"`
	Action        string       `json:"action"`
	EntityType    *string      `json:"entity_type,omitempty"`
	EntityID      *string      `json:"entity_id,omitempty"`
	Changes       AuditChanges `json:"changes,omitempty"`
	Status        string       `json:"status"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	IPAddress     *string      `json:"ip_address,omitempty"`
	UserAgent     *string      `json:"user_agent,omitempty"`
	RequestID     *string      `json:"request_id,omitempty"`
}

// Validate checks the closed vocabularies and the error_message rule.
func (e *AuditEvent) Validate() error {
	if !validCategories[e.EventCategory] {
		return fmt.Errorf("%w: unknown event category %q", ErrInvalidAuditEvent, e.EventCategory)
	}
	if e.EventType == "" || len(e.EventType) > 50 {
		return fmt.Errorf("%w: event type must be 1-50 characters", ErrInvalidAuditEvent)
	}
	if !validActions[e.Action] {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAuditEvent, e.Action)
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAuditEvent, e.Status)
	}
	if e.Status == AuditStatusSuccess && e.ErrorMessage != nil {
		return fmt.Errorf("%w: error message on successful event", ErrInvalidAuditEvent)
	}
	return nil
}

// AuditEntry is one immutable ledger record.
type AuditEntry struct {
	Seq           int64        `db:"seq" json:"seq"`
	ID            uuid.UUID    `db:"id" json:"id"`
	Timestamp     time.Time    `db:"timestamp" json:"timestamp"`
	ActorID       *string      `db:"actor_id" json:"actor_id,omitempty"`
	EventCategory string       `db:"event_category" json:"event_category"`
	EventType     string       `db:"event_type" json:"event_type"`
	Action        string       `db:"action" json:"action"`
	EntityType    *string      `db:"entity_type" json:"entity_type,omitempty"`
	EntityID      *string      `db:"entity_id" json:"entity_id,omitempty"`
	Changes       AuditChanges `db:"changes" json:"changes,omitempty"`
	Status        string       `db:"status" json:"status"`
	ErrorMessage  *string      `db:"error_message" json:"error_message,omitempty"`
	IPAddress     *string      `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent     *string      `db:"user_agent" json:"user_agent,omitempty"`
	RequestID     *string      `db:"request_id" json:"request_id,omitempty"`
	PrevHash      string       `db:"prev_hash" json:"prev_hash"`
	ContentHash   string       `db:"content_hash" json:"content_hash"`
}

// NewAuditEntry builds the entry that follows (prevSeq, prevHash). It has no
// side effects; id and clock are supplied by the caller. The timestamp is
// truncated to microseconds and changes are canonicalized so the entry hashes
// identically after a round trip through Postgres.
func NewAuditEntry(event AuditEvent, prevSeq int64, prevHash string, id uuid.UUID, now time.Time) (*AuditEntry, error) {
	if prevHash == "" {
		prevHash = GenesisHash
	}

	changes, err := canonicalChanges(event.Changes)
	if err != nil {
		return nil, err
	}

	entry := &AuditEntry{
		Seq:           prevSeq + 1,
		ID:            id,
		Timestamp:     now.UTC().Truncate(time.Microsecond),
		ActorID:       cloneString(event.ActorID),
		EventCategory: event.EventCategory,
		EventType:     event.EventType,
		Action:        event.Action,
		EntityType:    cloneString(event.EntityType),
		EntityID:      cloneString(event.EntityID),
		Changes:       changes,
		Status:        event.Status,
		ErrorMessage:  cloneString(event.ErrorMessage),
		IPAddress:     cloneString(event.IPAddress),
		UserAgent:     cloneString(event.UserAgent),
		RequestID:     cloneString(event.RequestID),
		PrevHash:      prevHash,
	}

	hash, err := entry.ComputeHash(prevHash)
	if err != nil {
		return nil, err
	}
	entry.ContentHash = hash
	return entry, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// canonicalChanges gives changes the exact shape they will have after being
// read back from storage, so the digest does not depend on the caller's Go
// types (struct field order, int vs float).
func canonicalChanges(c AuditChanges) (AuditChanges, error) {
	if len(c) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(map[string]FieldChange(c))
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit changes: %w", err)
	}
	var out AuditChanges
	if err := out.Scan(data); err != nil {
		return nil, fmt.Errorf("failed to decode audit changes: %w", err)
	}
	return out, nil
}

// hashableEntry fixes field order for the digest. ContentHash is excluded.
type hashableEntry struct {
	Seq           int64        `json:"seq"`
	ID            string       `json:"id"`
	Timestamp     string       `json:"timestamp"`
	PrevHash      string       `json:"prev_hash"`
	ActorID       *string      `json:"actor_id"`
	EventCategory string       `json:"event_category"`
	EventType     string       `json:"event_type"`
	Action        string       `json:"action"`
	EntityType    *string      `json:"entity_type"`
	EntityID      *string      `json:"entity_id"`
	Changes       AuditChanges `json:"changes"`
	Status        string       `json:"status"`
	ErrorMessage  *string      `json:"error_message"`
	IPAddress     *string      `json:"ip_address"`
	UserAgent     *string      `json:"user_agent"`
	RequestID     *string      `json:"request_id"`
}

// ComputeHash returns the hex SHA-256 digest of the entry's content linked to
// prevHash. Passing a prevHash other than the stored one lets verification
// carry a recomputed chain forward.
func (e *AuditEntry) ComputeHash(prevHash string) (string, error) {
	changes := e.Changes
	if len(changes) == 0 {
		changes = nil
	}

	data, err := json.Marshal(hashableEntry{
		Seq:           e.Seq,
		ID:            e.ID.String(),
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		PrevHash:      prevHash,
		ActorID:       e.ActorID,
		EventCategory: e.EventCategory,
		EventType:     e.EventType,
		Action:        e.Action,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Changes:       changes,
		Status:        e.Status,
		ErrorMessage:  e.ErrorMessage,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		RequestID:     e.RequestID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode audit entry: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// AuditFilter narrows ledger queries. Zero values mean "any".
type AuditFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Categories []string
	Limit      int
	Offset     int
}
