package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/partsmarket/backend/internal/logging"
	"github.com/partsmarket/backend/internal/models"
	"github.com/partsmarket/backend/internal/telegram"
)

// Outcome labels for Telegram login attempts.
const (
	OutcomeCreated          = "created"
	OutcomeExisting         = "existing"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeStale            = "stale"
	OutcomeBackendFailure   = "backend_failure"
)

// ErrBackendFailure wraps persistence and session failures so callers can
// tell them apart from rejected assertions.
var ErrBackendFailure = errors.New("authentication backend failure")

// AssertionVerifier checks a signed field set.
type AssertionVerifier interface {
	Verify(f telegram.Fields) (telegram.Assertion, error)
}

// IdentityStore links Telegram accounts to users. UpsertTelegramIdentity
// must be idempotent per TelegramID: concurrent calls for the same id yield a
// single user, and created is true for exactly one of them.
type IdentityStore interface {
	UpsertTelegramIdentity(ctx context.Context, identity models.TelegramIdentity) (user models.User, created bool, err error)
}

// SessionIssuer issues session tokens for a user.
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
}

// LoginRecorder observes login outcomes.
type LoginRecorder interface {
	ObserveTelegramLogin(outcome string, duration time.Duration)
}

// TelegramLogin is the result of a successful Telegram sign-in.
type TelegramLogin struct {
	UserID     string
	UserExists bool
	User       models.User
	Tokens     models.SessionTokens
}

// TelegramAuthenticator verifies widget assertions, upserts the linked user
// and issues a session.
type TelegramAuthenticator struct {
	Verifier   AssertionVerifier
	Identities IdentityStore
	Sessions   SessionIssuer
	Metrics    LoginRecorder
}

// Authenticate returns telegram.ErrInvalidSignature or telegram.ErrStaleAssertion
// for rejected assertions, and an error wrapping ErrBackendFailure when the
// assertion was valid but the user or session could not be persisted.
func (a *TelegramAuthenticator) Authenticate(ctx context.Context, f telegram.Fields) (TelegramLogin, error) {
	ctx, span := logging.StartSpan(ctx, "auth.telegram")
	defer span.End()
	start := time.Now()

	login, outcome, err := a.authenticate(ctx, f)
	span.Annotate(slog.String("outcome", outcome))
	if a.Metrics != nil {
		a.Metrics.ObserveTelegramLogin(outcome, time.Since(start))
	}
	if err != nil {
		logger := logging.FromContext(ctx)
		if outcome == OutcomeBackendFailure {
			logger.Error("telegram login failed", slog.Any("error", err))
		} else {
			logger.Warn("telegram login rejected", slog.String("outcome", outcome))
		}
	}
	return login, err
}

func (a *TelegramAuthenticator) authenticate(ctx context.Context, f telegram.Fields) (TelegramLogin, string, error) {
	assertion, err := a.Verifier.Verify(f)
	if err != nil {
		if errors.Is(err, telegram.ErrStaleAssertion) {
			return TelegramLogin{}, OutcomeStale, err
		}
		return TelegramLogin{}, OutcomeInvalidSignature, err
	}

	user, created, err := a.Identities.UpsertTelegramIdentity(ctx, models.TelegramIdentity{
		TelegramID: assertion.ID,
		FirstName:  assertion.FirstName,
		LastName:   assertion.LastName,
		Username:   assertion.Username,
		PhotoURL:   assertion.PhotoURL,
		AuthDate:   assertion.IssuedAt(),
	})
	if err != nil {
		return TelegramLogin{}, OutcomeBackendFailure, fmt.Errorf("%w: upsert identity: %v", ErrBackendFailure, err)
	}

	tokens, err := a.Sessions.Issue(ctx, user.ID)
	if err != nil {
		return TelegramLogin{}, OutcomeBackendFailure, fmt.Errorf("%w: issue session: %v", ErrBackendFailure, err)
	}

	outcome := OutcomeExisting
	if created {
		outcome = OutcomeCreated
	}
	return TelegramLogin{
		UserID:     user.ID,
		UserExists: !created,
		User:       user,
		Tokens:     tokens,
	}, outcome, nil
}
