//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/clinitrust/internal/database"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a disposable Postgres, applies the migrations and
// returns a database handle that is torn down with the test.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("clinitrust"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := database.New(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestAccountRepository_Postgres(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewAccountRepository(db)

	created, err := repo.Create(ctx, newTestAccount("drjane", "Jane@Clinic.org"))
	require.NoError(t, err)

	t.Run("lookup by username or email", func(t *testing.T) {
		a, err := repo.GetByIdentifier(ctx, "drjane")
		require.NoError(t, err)
		assert.Equal(t, created.ID, a.ID)

		a, err = repo.GetByIdentifier(ctx, "jane@clinic.org")
		require.NoError(t, err)
		assert.Equal(t, created.ID, a.ID)

		_, err = repo.GetByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestAccount("other", "JANE@clinic.org"))
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("mutation onto a taken username is a conflict", func(t *testing.T) {
		other, err := repo.Create(ctx, newTestAccount("drjoe", "joe@clinic.org"))
		require.NoError(t, err)

		_, err = repo.Mutate(ctx, other.ID, func(a *models.Account) error {
			a.Username = "drjane"
			return nil
		})
		assert.ErrorIs(t, err, models.ErrConflict)

		renamed, err := repo.Mutate(ctx, other.ID, func(a *models.Account) error {
			a.Username = "drjoe.smith"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "drjoe.smith", renamed.Username)
	})

	t.Run("concurrent mutations are serialized", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
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

		a, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, a.FailedAttempts)
	})
}

func TestAuditEntryRepository_Postgres(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewAuditEntryRepository(db)

	_, err := repo.Tail(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	event := models.AuditEvent{
		ActorID:       strPtr("actor-1"),
		EventCategory: models.AuditCategoryClinicalData,
		EventType:     "diagnosis_update",
		Action:        models.AuditActionUpdate,
		EntityType:    strPtr(models.AuditEntityConsultation),
		EntityID:      strPtr("c-9"),
		Changes: models.AuditChanges{
			"icd10": {Old: "J20.9", New: "J18.9"},
			"dose":  {Old: 2.5, New: map[string]any{"mg": 500, "per_day": 3}},
		},
		Status: models.AuditStatusSuccess,
	}

	first, err := models.NewAuditEntry(event, 0, models.GenesisHash, uuid.New(), time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, first))

	t.Run("stored entry hashes identically", func(t *testing.T) {
		tail, err := repo.Tail(ctx)
		require.NoError(t, err)

		hash, err := tail.ComputeHash(tail.PrevHash)
		require.NoError(t, err)
		assert.Equal(t, first.ContentHash, hash)
		assert.True(t, first.Timestamp.Equal(tail.Timestamp))
	})

	t.Run("reused prev_hash is a conflict", func(t *testing.T) {
		fork, err := models.NewAuditEntry(event, 1, models.GenesisHash, uuid.New(), time.Now())
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Insert(ctx, fork), models.ErrConflict)
	})

	t.Run("list by category", func(t *testing.T) {
		second, err := models.NewAuditEntry(event, first.Seq, first.ContentHash, uuid.New(), time.Now())
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, second))

		entries, err := repo.List(ctx, models.AuditFilter{Categories: []string{models.AuditCategoryClinicalData}})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(2), entries[0].Seq)

		none, err := repo.List(ctx, models.AuditFilter{Categories: []string{models.AuditCategoryReports}})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ledger rows cannot be updated", func(t *testing.T) {
		_, err := db.Pool.Exec(ctx, `UPDATE audit_entries SET event_type = 'x' WHERE seq = 1`)
		assert.Error(t, err)
	})
}
