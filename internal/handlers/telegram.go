package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/partsmarket/backend/internal/auth"
	"github.com/partsmarket/backend/internal/logging"
	"github.com/partsmarket/backend/internal/models"
	"github.com/partsmarket/backend/internal/telegram"
)

const (
	maxAssertionBytes = 8 << 10

	errInvalidAuthData = "invalid authentication data"
	errAuthBackend     = "authentication backend failure"
)

// TelegramHandler implements the Telegram login widget callback.
type TelegramHandler struct {
	Authenticator TelegramAuthenticator
}

type telegramLoginResponse struct {
	Success          bool        `json:"success"`
	UserID           string      `json:"user_id"`
	UserExists       bool        `json:"user_exists"`
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	User             models.User `json:"user"`
}

// Login handles POST (JSON body) and GET (query string) on /api/v1/auth/telegram.
func (h TelegramHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var (
		fields telegram.Fields
		err    error
	)
	switch r.Method {
	case http.MethodGet:
		fields = telegram.FieldsFromValues(r.URL.Query())
	case http.MethodPost:
		var body []byte
		body, err = io.ReadAll(io.LimitReader(r.Body, maxAssertionBytes+1))
		if err == nil && len(body) > maxAssertionBytes {
			err = errors.New("assertion body too large")
		}
		if err == nil {
			fields, err = telegram.FieldsFromJSON(body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		logger.Warn("invalid telegram payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": errInvalidAuthData})
		return
	}

	if h.Authenticator == nil {
		logger.Error("telegram authenticator unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": errAuthBackend})
		return
	}

	login, err := h.Authenticator.Authenticate(ctx, fields)
	switch {
	case err == nil:
	case errors.Is(err, telegram.ErrInvalidSignature), errors.Is(err, telegram.ErrStaleAssertion):
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": errInvalidAuthData})
		return
	case errors.Is(err, auth.ErrBackendFailure):
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": errAuthBackend})
		return
	default:
		logger.Error("unexpected telegram login error", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": errAuthBackend})
		return
	}

	respondJSON(ctx, w, http.StatusOK, telegramLoginResponse{
		Success:          true,
		UserID:           login.UserID,
		UserExists:       login.UserExists,
		AccessToken:      login.Tokens.AccessToken,
		RefreshToken:     login.Tokens.RefreshToken,
		AccessExpiresAt:  login.Tokens.AccessExpiresAt,
		RefreshExpiresAt: login.Tokens.RefreshExpiresAt,
		User:             login.User,
	})
}
