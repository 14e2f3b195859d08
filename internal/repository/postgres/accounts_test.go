package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/repository"
)

func newMockRepo(t *testing.T) (*AccountRepository, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	return NewAccountRepository(mock), mock
}

func accountRows() *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(accountColumns).AddRow(
		"acct-1",
		"Jamie",
		"jamie@example.com",
		"user",
		"argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		nil,
		true,
		nil,
		nil,
		nil,
		nil,
		int64(2),
		nil,
		nil,
		false,
		nil,
		nil,
		[]string{},
		now,
		now,
	)
}

func TestAccountRepositoryGetByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM identity\.accounts WHERE email = \$1`).
		WithArgs("jamie@example.com").
		WillReturnRows(accountRows())

	account, err := repo.GetByEmail(context.Background(), "Jamie@Example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if account.ID != "acct-1" {
		t.Errorf("unexpected id: %s", account.ID)
	}
	if account.Role != domain.RoleUser {
		t.Errorf("unexpected role: %s", account.Role)
	}
	if account.TokenVersion != 2 {
		t.Errorf("unexpected token version: %d", account.TokenVersion)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAccountRepositoryGetByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM identity\.accounts WHERE email = \$1`).
		WithArgs("missing@example.com").
		WillReturnRows(pgxmock.NewRows(accountColumns))

	_, err := repo.GetByEmail(context.Background(), "missing@example.com")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositorySaveMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE identity\.accounts SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Save(context.Background(), domain.Account{ID: "ghost"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestAccountRepositoryCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO identity\.accounts`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	account := domain.Account{
		ID:           "acct-2",
		Name:         "Rowan",
		Email:        "rowan@example.com",
		Role:         domain.RoleUser,
		PasswordHash: "argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
	}
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
