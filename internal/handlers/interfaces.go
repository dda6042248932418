package handlers

import (
	"context"

	"github.com/partsmarket/backend/internal/auth"
	"github.com/partsmarket/backend/internal/imaging"
	"github.com/partsmarket/backend/internal/models"
	"github.com/partsmarket/backend/internal/telegram"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// SessionManager issues, refreshes and revokes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// TelegramAuthenticator verifies a login widget assertion and signs the user in.
type TelegramAuthenticator interface {
	Authenticate(ctx context.Context, f telegram.Fields) (auth.TelegramLogin, error)
}

// ImageCompressor runs compression tasks.
type ImageCompressor interface {
	Compress(ctx context.Context, task imaging.Task) (imaging.Response, error)
	CompressOrOriginal(ctx context.Context, task imaging.Task) (imaging.Response, bool, error)
}

// ImageStorage persists compressed images and returns their location.
type ImageStorage interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ImageRecorder keeps a record of stored images.
type ImageRecorder interface {
	Record(ctx context.Context, upload models.ImageUpload) error
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
