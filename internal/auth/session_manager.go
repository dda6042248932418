package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/partsmarket/backend/internal/models"
)

var (
	// ErrSessionNotFound indicates the provided refresh token does not map to an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshTokenExpired indicates the refresh token has expired and cannot be used.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrMissingUserID is returned when a session is requested for an empty user.
	ErrMissingUserID = errors.New("user id must be provided")
)

// SessionStore persists issued refresh tokens so they can survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, refreshToken string) (Session, error)
	Delete(ctx context.Context, refreshToken string) error
}

// Session represents a refresh token issued to a user.
type Session struct {
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

// Manager issues and rotates session token pairs.
type Manager struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	store SessionStore
}

// NewManager constructs a Manager that issues access and refresh tokens with the provided TTLs.
func NewManager(accessTTL, refreshTTL time.Duration, store SessionStore) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	return &Manager{
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		store:      store,
	}
}

// WithClock overrides the time source used for expiry calculations.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue creates a new pair of access and refresh tokens for userID.
func (m *Manager) Issue(ctx context.Context, userID string) (models.SessionTokens, error) {
	if userID == "" {
		return models.SessionTokens{}, ErrMissingUserID
	}

	access, err := randomToken()
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := randomToken()
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := m.now().UTC()
	tokens := models.SessionTokens{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshToken:     refresh,
		RefreshExpiresAt: now.Add(m.refreshTTL),
	}

	if err := m.store.Save(ctx, Session{
		RefreshToken: refresh,
		UserID:       userID,
		ExpiresAt:    tokens.RefreshExpiresAt,
	}); err != nil {
		return models.SessionTokens{}, fmt.Errorf("save session: %w", err)
	}
	return tokens, nil
}

// Refresh rotates refreshToken: the old token is deleted and a new pair is issued.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	if refreshToken == "" {
		return models.SessionTokens{}, ErrSessionNotFound
	}

	session, err := m.store.Find(ctx, refreshToken)
	if err != nil {
		return models.SessionTokens{}, err
	}

	if m.now().UTC().After(session.ExpiresAt) {
		_ = m.store.Delete(ctx, refreshToken)
		return models.SessionTokens{}, ErrRefreshTokenExpired
	}

	if err := m.store.Delete(ctx, refreshToken); err != nil {
		return models.SessionTokens{}, fmt.Errorf("delete session: %w", err)
	}
	return m.Issue(ctx, session.UserID)
}

// Revoke removes refreshToken from the store. Unknown tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := m.store.Delete(ctx, refreshToken); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
