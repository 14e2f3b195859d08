package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// accountColumns is the canonical column order shared by every select and
// the scan helper.
var accountColumns = []string{
	"id",
	"name",
	"email",
	"role",
	"password_hash",
	"external_id",
	"is_email_verified",
	"email_verification_token_hash",
	"email_verification_expires_at",
	"reset_password_token_hash",
	"reset_password_expires_at",
	"token_version",
	"refresh_token_hash",
	"refresh_token_expires_at",
	"two_factor_enabled",
	"two_factor_secret",
	"two_factor_pending_secret",
	"backup_code_hashes",
	"created_at",
	"updated_at",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	repo := &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new account row. A unique violation on email or
// external id maps to repository.ErrAlreadyExists.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := r.builder.Insert("identity.accounts").
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Name,
			account.Email,
			string(account.Role),
			account.PasswordHash,
			account.ExternalID,
			account.IsEmailVerified,
			account.EmailVerificationTokenHash,
			account.EmailVerificationExpiresAt,
			account.ResetPasswordTokenHash,
			account.ResetPasswordExpiresAt,
			account.TokenVersion,
			account.RefreshTokenHash,
			account.RefreshTokenExpiresAt,
			account.TwoFactorEnabled,
			account.TwoFactorSecret,
			account.TwoFactorPendingSecret,
			account.BackupCodeHashes,
			account.CreatedAt,
			account.UpdatedAt,
		)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// Save persists the full account record in a single statement. It is the
// commit point of every read-modify-write flow; the row-level lock taken by
// UPDATE serializes concurrent writers on the same account.
func (r *AccountRepository) Save(ctx context.Context, account domain.Account) error {
	account.UpdatedAt = time.Now().UTC()

	query := r.builder.Update("identity.accounts").
		Set("name", account.Name).
		Set("email", account.Email).
		Set("role", string(account.Role)).
		Set("password_hash", account.PasswordHash).
		Set("external_id", account.ExternalID).
		Set("is_email_verified", account.IsEmailVerified).
		Set("email_verification_token_hash", account.EmailVerificationTokenHash).
		Set("email_verification_expires_at", account.EmailVerificationExpiresAt).
		Set("reset_password_token_hash", account.ResetPasswordTokenHash).
		Set("reset_password_expires_at", account.ResetPasswordExpiresAt).
		Set("token_version", account.TokenVersion).
		Set("refresh_token_hash", account.RefreshTokenHash).
		Set("refresh_token_expires_at", account.RefreshTokenExpiresAt).
		Set("two_factor_enabled", account.TwoFactorEnabled).
		Set("two_factor_secret", account.TwoFactorSecret).
		Set("two_factor_pending_secret", account.TwoFactorPendingSecret).
		Set("backup_code_hashes", account.BackupCodeHashes).
		Set("updated_at", account.UpdatedAt).
		Where(squirrel.Eq{"id": account.ID})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"email": domain.NormalizeEmail(email)})
}

// GetByExternalID retrieves the account linked to a third-party identity.
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"external_id": externalID})
}

// GetByVerificationTokenHash retrieves the account holding an email verification token.
func (r *AccountRepository) GetByVerificationTokenHash(ctx context.Context, hash string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"email_verification_token_hash": hash})
}

// GetByResetTokenHash retrieves the account holding a password reset token.
func (r *AccountRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"reset_password_token_hash": hash})
}

func (r *AccountRepository) getBy(ctx context.Context, pred squirrel.Eq) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("identity.accounts").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return account, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account domain.Account
		role    string
	)

	if err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&role,
		&account.PasswordHash,
		&account.ExternalID,
		&account.IsEmailVerified,
		&account.EmailVerificationTokenHash,
		&account.EmailVerificationExpiresAt,
		&account.ResetPasswordTokenHash,
		&account.ResetPasswordExpiresAt,
		&account.TokenVersion,
		&account.RefreshTokenHash,
		&account.RefreshTokenExpiresAt,
		&account.TwoFactorEnabled,
		&account.TwoFactorSecret,
		&account.TwoFactorPendingSecret,
		&account.BackupCodeHashes,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	account.Role = domain.Role(role)
	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
