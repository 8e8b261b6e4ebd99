package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(username, email string) *models.Account {
	return &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		Role:         models.RoleClinician,
		IsActive:     true,
	}
}

func TestMemoryAccountRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newTestAccount("drjane", "Jane@Clinic.org"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	byUsername, err := repo.GetByIdentifier(ctx, "  drjane ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byUsername.ID)

	byEmail, err := repo.GetByIdentifier(ctx, "jane@clinic.org")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = repo.GetByIdentifier(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.Create(ctx, newTestAccount("drjane", "other@clinic.org"))
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.Create(ctx, newTestAccount("other", "JANE@clinic.org"))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestMemoryAccountRepository_MutateRejectsTakenIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	_, err := repo.Create(ctx, newTestAccount("drjoe", "joe@clinic.org"))
	require.NoError(t, err)
	jane, err := repo.Create(ctx, newTestAccount("drjane", "jane@clinic.org"))
	require.NoError(t, err)

	_, err = repo.Mutate(ctx, jane.ID, func(a *models.Account) error {
		a.Username = "drjoe"
		return nil
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.Mutate(ctx, jane.ID, func(a *models.Account) error {
		a.Email = "JOE@clinic.org"
		return nil
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	// keeping its own username is not a conflict
	_, err = repo.Mutate(ctx, jane.ID, func(a *models.Account) error {
		a.FirstName = "Jane"
		return nil
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, "drjane", stored.Username)
	assert.Equal(t, "jane@clinic.org", stored.Email)
}

func TestMemoryAccountRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newTestAccount("drjane", "jane@clinic.org"))
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	got.FailedAttempts = 4

	again, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.FailedAttempts)
}

func TestMemoryAccountRepository_MutateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newTestAccount("drjane", "jane@clinic.org"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = repo.Mutate(ctx, created.ID, func(a *models.Account) error {
		a.FailedAttempts = 3
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedAttempts)

	_, err = repo.Mutate(ctx, "missing", func(a *models.Account) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryAccountRepository_MutateNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, newTestAccount("drjane", "jane@clinic.org"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, created.ID, func(a *models.Account) error {
				a.FailedAttempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.FailedAttempts)
}

func TestMemoryAccountRepository_CountActiveAdminsAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	admin := newTestAccount("admin1", "a1@clinic.org")
	admin.Role = models.RoleAdmin
	_, err := repo.Create(ctx, admin)
	require.NoError(t, err)

	inactive := newTestAccount("admin2", "a2@clinic.org")
	inactive.Role = models.RoleAdmin
	inactive.IsActive = false
	_, err = repo.Create(ctx, inactive)
	require.NoError(t, err)

	_, err = repo.Create(ctx, newTestAccount("clin", "c@clinic.org"))
	require.NoError(t, err)

	n, err := repo.CountActiveAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	page, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := repo.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	empty, err := repo.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func appendEntry(t *testing.T, repo *MemoryAuditEntryRepository, event models.AuditEvent) *models.AuditEntry {
	t.Helper()
	ctx := context.Background()

	var prevSeq int64
	prevHash := models.GenesisHash
	tail, err := repo.Tail(ctx)
	if err == nil {
		prevSeq, prevHash = tail.Seq, tail.ContentHash
	} else {
		require.ErrorIs(t, err, models.ErrNotFound)
	}

	entry, err := models.NewAuditEntry(event, prevSeq, prevHash, uuid.New(), time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, entry))
	return entry
}

func strPtr(s string) *string { return &s }

func TestMemoryAuditEntryRepository_InsertEnforcesLinkage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditEntryRepository()

	event := models.AuditEvent{
		EventCategory: models.AuditCategoryAuthentication,
		EventType:     models.AuditEventTypeLoginSuccess,
		Action:        models.AuditActionLogin,
		Status:        models.AuditStatusSuccess,
	}
	first := appendEntry(t, repo, event)

	// a second writer that read the same (empty) tail loses
	stale, err := models.NewAuditEntry(event, 0, models.GenesisHash, uuid.New(), time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Insert(ctx, stale), models.ErrConflict)

	// right seq, reused prev_hash
	fork, err := models.NewAuditEntry(event, 1, models.GenesisHash, uuid.New(), time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Insert(ctx, fork), models.ErrConflict)

	second := appendEntry(t, repo, event)
	assert.Equal(t, first.ContentHash, second.PrevHash)

	all, err := repo.Range(ctx, 1, 100)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryAuditEntryRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditEntryRepository()

	for i := 0; i < 3; i++ {
		appendEntry(t, repo, models.AuditEvent{
			ActorID:       strPtr("actor-1"),
			EventCategory: models.AuditCategoryPatientRecords,
			EventType:     "patient_update",
			Action:        models.AuditActionUpdate,
			EntityType:    strPtr(models.AuditEntityPatient),
			EntityID:      strPtr("p-1"),
			Status:        models.AuditStatusSuccess,
		})
	}
	appendEntry(t, repo, models.AuditEvent{
		ActorID:       strPtr("actor-2"),
		EventCategory: models.AuditCategoryAuthentication,
		EventType:     models.AuditEventTypeLoginFailed,
		Action:        models.AuditActionLogin,
		Status:        models.AuditStatusFailure,
	})

	byActor, err := repo.List(ctx, models.AuditFilter{ActorID: "actor-1"})
	require.NoError(t, err)
	assert.Len(t, byActor, 3)
	assert.Equal(t, int64(3), byActor[0].Seq, "newest first")

	byEntity, err := repo.List(ctx, models.AuditFilter{EntityType: models.AuditEntityPatient, EntityID: "p-1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, byEntity, 2)
	assert.Equal(t, int64(2), byEntity[0].Seq)

	byCategory, err := repo.List(ctx, models.AuditFilter{Categories: []string{models.AuditCategoryAuthentication}})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "actor-2", *byCategory[0].ActorID)
}
