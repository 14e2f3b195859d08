package port

import (
	"context"

	"github.com/taskplane/identity-service/internal/core/domain"
)

// AccountRepository exposes persistence behavior for accounts. The backing
// store serializes concurrent writers per record: Save persists the full
// account in a single statement, which is the read-modify-write commit
// point for every flow.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	Save(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Account, error)
	GetByVerificationTokenHash(ctx context.Context, hash string) (*domain.Account, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.Account, error)
}
