package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vidproof/backend/internal/db"
	"github.com/vidproof/backend/internal/models"
)

const profileColumns = `id, telegram_id, full_name, active, registered_at, created_at, updated_at`

// PostgresProfileRepository provides PostgreSQL-backed persistence for profiles.
type PostgresProfileRepository struct {
	pool db.Pool
}

// NewPostgresProfileRepository constructs a profile repository backed by PostgreSQL.
func NewPostgresProfileRepository(pool db.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{pool: pool}
}

// Create persists a new profile. A second profile for the same Telegram id yields ErrConflict.
func (r *PostgresProfileRepository) Create(ctx context.Context, profile models.Profile) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO profiles (id, telegram_id, full_name, active, registered_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, profile.ID, profile.TelegramID, profile.FullName, profile.Active, profile.RegisteredAt, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		return translate(err, "insert profile")
	}

	return nil
}

// FindByID fetches a profile by its identifier.
func (r *PostgresProfileRepository) FindByID(ctx context.Context, id string) (models.Profile, error) {
	return r.findOne(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
}

// FindByTelegramID fetches the profile registered for a Telegram user.
func (r *PostgresProfileRepository) FindByTelegramID(ctx context.Context, telegramID int64) (models.Profile, error) {
	return r.findOne(ctx, `SELECT `+profileColumns+` FROM profiles WHERE telegram_id = $1`, telegramID)
}

// List returns every profile ordered by name.
func (r *PostgresProfileRepository) List(ctx context.Context) ([]models.Profile, error) {
	return r.list(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY full_name ASC`)
}

// ListActive returns active profiles ordered by name.
func (r *PostgresProfileRepository) ListActive(ctx context.Context) ([]models.Profile, error) {
	return r.list(ctx, `SELECT `+profileColumns+` FROM profiles WHERE active ORDER BY full_name ASC`)
}

// SetActive toggles whether the profile receives new tasks and broadcasts.
func (r *PostgresProfileRepository) SetActive(ctx context.Context, id string, active bool) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE profiles
        SET active = $2, updated_at = now()
        WHERE id = $1
    `, id, active)
	if err != nil {
		return fmt.Errorf("update profile active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresProfileRepository) findOne(ctx context.Context, query string, arg any) (models.Profile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Profile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	profile, err := scanProfile(conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return profile, nil
}

func (r *PostgresProfileRepository) list(ctx context.Context, query string) ([]models.Profile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return profiles, nil
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var p models.Profile
	if err := row.Scan(&p.ID, &p.TelegramID, &p.FullName, &p.Active, &p.RegisteredAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.Profile{}, err
	}
	p.RegisteredAt = p.RegisteredAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

var _ ProfileRepository = (*PostgresProfileRepository)(nil)
