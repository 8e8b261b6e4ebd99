package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/clinitrust/internal/database"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository is the Postgres credential store. Accounts are never
// deleted, so there is no Delete method.
type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, username, email, password_hash, first_name, last_name, role, is_active,
	failed_attempts, locked_until, password_changed_at, last_login, created_at, updated_at`

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	var id uuid.UUID

	err := scanner.Scan(
		&id, &a.Username, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Role, &a.IsActive,
		&a.FailedAttempts, &a.LockedUntil, &a.PasswordChangedAt, &a.LastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.ID = id.String()
	return &a, nil
}

func scanAccountRows(rows pgx.Rows) ([]*models.Account, error) {
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByIdentifier matches a username exactly or an email case-insensitively.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE username = $1 OR LOWER(email) = LOWER($1)
		ORDER BY (username = $1) DESC
		LIMIT 1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, identifier))
}

func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}

	return scanAccountRows(rows)
}

func (r *AccountRepository) CountActiveAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE role = $1 AND is_active`, models.RoleAdmin,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, username, email, password_hash, first_name, last_name, role, is_active,
			failed_attempts, locked_until, password_changed_at, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.FirstName, account.LastName, account.Role, account.IsActive,
		account.FailedAttempts, account.LockedUntil, account.PasswordChangedAt, account.LastLogin,
		account.CreatedAt, account.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return created, nil
}

// Mutate applies fn to the account while holding its row lock. The row is
// written back only when fn returns nil; the returned account is the stored
// state after the write.
func (r *AccountRepository) Mutate(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	var updated *models.Account
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		account, err := scanAccountRow(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		if err := fn(account); err != nil {
			return err
		}
		account.UpdatedAt = time.Now().UTC()

		_, err = tx.Exec(ctx, `
			UPDATE accounts SET
				username = $2, email = $3, password_hash = $4, first_name = $5, last_name = $6, role = $7,
				is_active = $8, failed_attempts = $9, locked_until = $10, password_changed_at = $11,
				last_login = $12, updated_at = $13
			WHERE id = $1`,
			id, account.Username, account.Email, account.PasswordHash, account.FirstName, account.LastName,
			account.Role, account.IsActive, account.FailedAttempts, account.LockedUntil,
			account.PasswordChangedAt, account.LastLogin, account.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", database.MapPostgresError(err))
		}

		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
