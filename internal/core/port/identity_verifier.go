package port

import (
	"context"

	"github.com/taskplane/identity-service/internal/core/domain"
)

// IdentityVerifier exchanges an authorization code with the external
// provider and returns the verified identity assertion. Any upstream
// failure must surface as an error; callers abort without mutating state.
type IdentityVerifier interface {
	Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error)
}
