package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vidproof/backend/internal/db"
	"github.com/vidproof/backend/internal/models"
)

const videoColumns = `id, title, url, description, type, storage_key, active, expires_at, created_at, updated_at`

// PostgresVideoRepository provides PostgreSQL-backed persistence for videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create stores a new video record.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	videoType := video.Type
	if videoType == "" {
		videoType = models.VideoTypeLink
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (id, title, url, description, type, storage_key, active, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, video.ID, video.Title, video.URL, video.Description, string(videoType), video.StorageKey, video.Active, video.ExpiresAt, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return translate(err, "insert video")
	}

	return nil
}

// FindByID fetches a video by its identifier.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	video, err := scanVideo(conn.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// List returns every video, newest first.
func (r *PostgresVideoRepository) List(ctx context.Context) ([]models.Video, error) {
	return r.list(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC`)
}

// ListActive returns the videos participants currently have to watch, oldest first.
func (r *PostgresVideoRepository) ListActive(ctx context.Context) ([]models.Video, error) {
	return r.list(ctx, `SELECT `+videoColumns+` FROM videos WHERE active ORDER BY created_at ASC`)
}

// ListExpired returns videos past their expiry that still hold an object or are still active.
func (r *PostgresVideoRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Video, error) {
	return r.list(ctx, `
        SELECT `+videoColumns+`
        FROM videos
        WHERE expires_at IS NOT NULL
          AND expires_at < $1
          AND (active OR storage_key <> '')
        ORDER BY expires_at ASC
    `, now.UTC())
}

// SetActive toggles whether the video is assigned to newly registered profiles.
func (r *PostgresVideoRepository) SetActive(ctx context.Context, id string, active bool) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE videos
        SET active = $2, updated_at = now()
        WHERE id = $1
    `, id, active)
	if err != nil {
		return fmt.Errorf("update video active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Expire deactivates a video and forgets its stored object. Uploaded files also lose their URL
// since the object behind it is gone.
func (r *PostgresVideoRepository) Expire(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE videos
        SET active = false,
            storage_key = '',
            url = CASE WHEN type = 'file' THEN '' ELSE url END,
            updated_at = now()
        WHERE id = $1
    `, id)
	if err != nil {
		return fmt.Errorf("expire video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresVideoRepository) list(ctx context.Context, query string, args ...any) ([]models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var (
		v         models.Video
		videoType string
	)
	if err := row.Scan(&v.ID, &v.Title, &v.URL, &v.Description, &videoType, &v.StorageKey, &v.Active, &v.ExpiresAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return models.Video{}, err
	}
	v.Type = models.VideoType(videoType)
	if v.ExpiresAt != nil {
		t := v.ExpiresAt.UTC()
		v.ExpiresAt = &t
	}
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, nil
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
