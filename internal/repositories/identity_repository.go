package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/partsmarket/backend/internal/db"
	"github.com/partsmarket/backend/internal/models"
)

// PostgresIdentityRepository stores Telegram identities and the users they
// belong to.
type PostgresIdentityRepository struct {
	pool  db.Pool
	now   func() time.Time
	newID func() string
}

// NewPostgresIdentityRepository constructs an identity repository backed by PostgreSQL.
func NewPostgresIdentityRepository(pool db.Pool) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{pool: pool, now: time.Now, newID: uuid.NewString}
}

// UpsertTelegramIdentity returns the user linked to identity.TelegramID,
// creating both rows on first sight and refreshing the profile otherwise.
// Two first logins racing on the same id collide on the primary key; the
// loser retries once and takes the update path.
func (r *PostgresIdentityRepository) UpsertTelegramIdentity(ctx context.Context, identity models.TelegramIdentity) (models.User, bool, error) {
	if identity.TelegramID <= 0 {
		return models.User{}, false, errors.New("telegram id must be positive")
	}

	user, created, err := r.upsert(ctx, identity)
	if errors.Is(err, ErrConflict) || db.IsRetryable(err) {
		user, created, err = r.upsert(ctx, identity)
	}
	if err != nil {
		return models.User{}, false, err
	}
	return user, created, nil
}

func (r *PostgresIdentityRepository) upsert(ctx context.Context, identity models.TelegramIdentity) (models.User, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, false, fmt.Errorf("begin identity transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx, `
        SELECT user_id
        FROM telegram_identities
        WHERE telegram_id = $1
        FOR UPDATE
    `, identity.TelegramID).Scan(&userID)

	var (
		user    models.User
		created bool
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		user, err = r.insert(ctx, tx, identity)
		created = true
	case err != nil:
		return models.User{}, false, fmt.Errorf("select telegram identity: %w", err)
	default:
		user, err = r.update(ctx, tx, userID, identity)
	}
	if err != nil {
		return models.User{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsUniqueViolation(err) {
			return models.User{}, false, ErrConflict
		}
		return models.User{}, false, fmt.Errorf("commit identity transaction: %w", err)
	}
	return user, created, nil
}

func (r *PostgresIdentityRepository) insert(ctx context.Context, tx pgx.Tx, identity models.TelegramIdentity) (models.User, error) {
	now := r.now().UTC()
	user := models.User{
		ID:          r.newID(),
		DisplayName: identity.DisplayName(),
		Username:    identity.Username,
		AvatarURL:   identity.PhotoURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO users (id, display_name, username, avatar_url, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
    `, user.ID, user.DisplayName, user.Username, user.AvatarURL, user.CreatedAt, user.UpdatedAt); err != nil {
		return models.User{}, fmt.Errorf("insert telegram user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO telegram_identities (telegram_id, user_id, first_name, last_name, username, photo_url, auth_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, identity.TelegramID, user.ID, identity.FirstName, identity.LastName, identity.Username, identity.PhotoURL,
		identity.AuthDate.UTC(), now, now); err != nil {
		if db.IsUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("insert telegram identity: %w", err)
	}
	return user, nil
}

func (r *PostgresIdentityRepository) update(ctx context.Context, tx pgx.Tx, userID string, identity models.TelegramIdentity) (models.User, error) {
	now := r.now().UTC()

	if _, err := tx.Exec(ctx, `
        UPDATE telegram_identities
        SET first_name = $2, last_name = $3, username = $4, photo_url = $5, auth_date = $6, updated_at = $7
        WHERE telegram_id = $1
    `, identity.TelegramID, identity.FirstName, identity.LastName, identity.Username, identity.PhotoURL,
		identity.AuthDate.UTC(), now); err != nil {
		return models.User{}, fmt.Errorf("update telegram identity: %w", err)
	}

	row := tx.QueryRow(ctx, `
        UPDATE users
        SET display_name = $2,
            username = COALESCE(NULLIF($3, ''), username),
            avatar_url = COALESCE(NULLIF($4, ''), avatar_url),
            updated_at = $5
        WHERE id = $1
        RETURNING `+userColumns,
		userID, identity.DisplayName(), identity.Username, identity.PhotoURL, now)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("update telegram user: %w", err)
	}
	return user, nil
}
