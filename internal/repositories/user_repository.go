package repositories

import (
	"context"

	"github.com/partsmarket/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// IdentityRepository links external identities to users.
type IdentityRepository interface {
	UpsertTelegramIdentity(ctx context.Context, identity models.TelegramIdentity) (models.User, bool, error)
}

var (
	_ UserRepository     = (*PostgresUserRepository)(nil)
	_ IdentityRepository = (*PostgresIdentityRepository)(nil)
)
