package models

import (
	"math"
	"time"
)

const (
	RoleAdmin     = "admin"
	RoleClinician = "clinician"
)

// Lockout policy
const (
	MaxFailedAttempts = 5
	LockoutDuration   = 30 * time.Minute
)

// AccountState is the authentication state derived from stored account fields.
type AccountState string

const (
	AccountStateActive   AccountState = "active"
	AccountStateLocked   AccountState = "locked"
	AccountStateDisabled AccountState = "disabled"
)

type Account struct {
	ID                string
	Username          string
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	Role              string // "admin" or "clinician"
	IsActive          bool
	FailedAttempts    int
	LockedUntil       *time.Time // Lock is active while this is in the future
	PasswordChangedAt *time.Time // nil means a password change is pending
	LastLogin         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// State derives the gate state at now. Disabled wins over Locked.
func (a *Account) State(now time.Time) AccountState {
	if !a.IsActive {
		return AccountStateDisabled
	}
	if a.LockedUntil != nil && now.Before(*a.LockedUntil) {
		return AccountStateLocked
	}
	return AccountStateActive
}

// LockExpired reports whether a lock was set and its window has elapsed.
func (a *Account) LockExpired(now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}

// MinutesRemaining rounds the remaining lock time up to whole minutes.
func (a *Account) MinutesRemaining(now time.Time) int {
	if a.LockedUntil == nil || !now.Before(*a.LockedUntil) {
		return 0
	}
	return int(math.Ceil(a.LockedUntil.Sub(now).Minutes()))
}

// PasswordChangeRequired is true for accounts created or reset by an admin
// that have not set their own password yet.
func (a *Account) PasswordChangeRequired() bool {
	return a.PasswordChangedAt == nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Account) Clone() *Account {
	c := *a
	c.LockedUntil = cloneTime(a.LockedUntil)
	c.PasswordChangedAt = cloneTime(a.PasswordChangedAt)
	c.LastLogin = cloneTime(a.LastLogin)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AccountProfile is the public view of an account returned to clients.
type AccountProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (a *Account) Profile() *AccountProfile {
	return &AccountProfile{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
	}
}
