package models

import (
	"strings"
	"time"
)

// User represents a PartsMarket account. Password is empty for accounts that
// have only ever signed in through Telegram.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"-"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TelegramIdentity links a Telegram account to exactly one user.
type TelegramIdentity struct {
	TelegramID int64
	UserID     string
	FirstName  string
	LastName   string
	Username   string
	PhotoURL   string
	AuthDate   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName joins first and last name, falling back to the username.
func (i TelegramIdentity) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
	if name != "" {
		return name
	}
	return i.Username
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// ImageUpload records a compressed image stored in object storage.
type ImageUpload struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	ObjectKey      string    `json:"object_key"`
	URL            string    `json:"url"`
	ContentType    string    `json:"content_type"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	OriginalSize   int       `json:"original_size"`
	CompressedSize int       `json:"compressed_size"`
	CreatedAt      time.Time `json:"created_at"`
}
