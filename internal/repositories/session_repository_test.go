package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsmarket/backend/internal/auth"
	"github.com/partsmarket/backend/internal/models"
)

func TestPostgresSessionStoreRoundTrip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSessionStore(mock)
	expires := repoNow.Add(24 * time.Hour)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("refresh-1", "user-1", expires).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT refresh_token, user_id, expires_at").
		WithArgs("refresh-1").
		WillReturnRows(pgxmock.NewRows([]string{"refresh_token", "user_id", "expires_at"}).AddRow("refresh-1", "user-1", expires))
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("refresh-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("refresh-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, auth.Session{RefreshToken: "refresh-1", UserID: "user-1", ExpiresAt: expires}))

	session, err := store.Find(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.True(t, session.ExpiresAt.Equal(expires))

	require.NoError(t, store.Delete(ctx, "refresh-1"))
	assert.ErrorIs(t, store.Delete(ctx, "refresh-1"), auth.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionStoreFindMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT refresh_token").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"refresh_token", "user_id", "expires_at"}))

	_, err = NewPostgresSessionStore(mock).Find(context.Background(), "nope")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestPostgresSessionStoreUnknownUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("r", "ghost", repoNow).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err = NewPostgresSessionStore(mock).Save(context.Background(), auth.Session{RefreshToken: "r", UserID: "ghost", ExpiresAt: repoNow})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresSessionStoreDeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WithArgs(repoNow).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := NewPostgresSessionStore(mock).DeleteExpired(context.Background(), repoNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestPostgresUserRepositoryCreateAndFind(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresUserRepository(mock)
	user := models.User{ID: "user-1", Email: "ali@example.com", Password: "hash", DisplayName: "Ali", CreatedAt: repoNow, UpdatedAt: repoNow}

	mock.ExpectExec("INSERT INTO users").
		WithArgs("user-1", "ali@example.com", "hash", "Ali", "", "", repoNow, repoNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO users").
		WithArgs("user-1", "ali@example.com", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("ali@example.com").
		WillReturnRows(userRow("user-1", "Ali"))
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "display_name", "username", "avatar_url", "created_at", "updated_at"}))
	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("down@example.com").
		WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, user))
	assert.ErrorIs(t, repo.Create(ctx, user), ErrConflict)

	found, err := repo.FindByEmail(ctx, "ali@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", found.ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByEmail(ctx, "down@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
