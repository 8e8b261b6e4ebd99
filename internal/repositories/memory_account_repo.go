package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/pkg/lock"
	"github.com/google/uuid"
)

// MemoryAccountRepository keeps accounts in process memory. Per-account
// mutations are serialized by a keyed mutex, so different accounts never
// block each other.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	locks    *lock.KeyedMutex
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts: make(map[string]*models.Account),
		locks:    lock.NewKeyedMutex(),
	}
}

func (r *MemoryAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryAccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, models.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var byEmail *models.Account
	for _, a := range r.accounts {
		if a.Username == identifier {
			return a.Clone(), nil
		}
		if strings.EqualFold(a.Email, identifier) {
			byEmail = a
		}
	}
	if byEmail == nil {
		return nil, models.ErrNotFound
	}
	return byEmail.Clone(), nil
}

func (r *MemoryAccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	r.mu.RLock()
	all := make([]*models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		all = append(all, a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []*models.Account{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *MemoryAccountRepository) CountActiveAdmins(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, a := range r.accounts {
		if a.Role == models.RoleAdmin && a.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *MemoryAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Username == account.Username || strings.EqualFold(a.Email, account.Email) {
			return nil, models.ErrConflict
		}
	}

	stored := account.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := r.accounts[stored.ID]; exists {
		return nil, models.ErrConflict
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.accounts[stored.ID] = stored
	return stored.Clone(), nil
}

// Mutate applies fn to a copy of the account under the account's lock and
// stores the copy only when fn returns nil. A username or email taken by
// another account yields models.ErrConflict.
func (r *MemoryAccountRepository) Mutate(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	current, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = id
	working.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	for otherID, a := range r.accounts {
		if otherID != id && (a.Username == working.Username || strings.EqualFold(a.Email, working.Email)) {
			return nil, models.ErrConflict
		}
	}
	r.accounts[id] = working

	return working.Clone(), nil
}
