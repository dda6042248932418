package repositories

import (
	"context"
	"fmt"

	"github.com/partsmarket/backend/internal/db"
	"github.com/partsmarket/backend/internal/models"
)

// PostgresImageRepository records uploaded images.
type PostgresImageRepository struct {
	pool db.Pool
}

// NewPostgresImageRepository constructs an image repository backed by PostgreSQL.
func NewPostgresImageRepository(pool db.Pool) *PostgresImageRepository {
	return &PostgresImageRepository{pool: pool}
}

// Record inserts upload. A reused object key yields ErrConflict.
func (r *PostgresImageRepository) Record(ctx context.Context, upload models.ImageUpload) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO image_uploads (id, owner_id, object_key, content_type, width, height, original_size, compressed_size, created_at)
        VALUES ($1, NULLIF($2, '')::UUID, $3, $4, $5, $6, $7, $8, $9)
    `, upload.ID, upload.OwnerID, upload.ObjectKey, upload.ContentType, upload.Width, upload.Height,
		upload.OriginalSize, upload.CompressedSize, upload.CreatedAt.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert image upload: %w", err)
	}
	return nil
}
