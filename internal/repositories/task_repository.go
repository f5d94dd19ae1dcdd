package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vidproof/backend/internal/db"
	"github.com/vidproof/backend/internal/models"
)

const monitorColumns = `task_id, status, evidence_url, completed_at, assigned_at, video_id, video_title, video_url, profile_id, telegram_id, full_name`

// PostgresTaskRepository provides PostgreSQL-backed persistence for tasks.
type PostgresTaskRepository struct {
	pool db.Pool
}

// NewPostgresTaskRepository constructs a task repository backed by PostgreSQL.
func NewPostgresTaskRepository(pool db.Pool) *PostgresTaskRepository {
	return &PostgresTaskRepository{pool: pool}
}

// CreateBatch inserts all tasks in a single transaction. Existing (profile, video) pairs are
// skipped so fan-out never produces duplicates.
func (r *PostgresTaskRepository) CreateBatch(ctx context.Context, tasks []models.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin task batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, task := range tasks {
		status := task.Status
		if status == "" {
			status = models.TaskStatusPending
		}
		batch.Queue(`
            INSERT INTO tasks (id, video_id, profile_id, status, evidence_url, completed_at, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            ON CONFLICT (profile_id, video_id) DO NOTHING
        `, task.ID, task.VideoID, task.ProfileID, string(status), task.EvidenceURL, task.CompletedAt, task.CreatedAt, task.UpdatedAt)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range tasks {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, translate(err, "insert task")
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close task batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit task batch: %w", err)
	}

	return inserted, nil
}

// FindDetail returns one task joined with its video and profile.
func (r *PostgresTaskRepository) FindDetail(ctx context.Context, taskID string) (models.TaskDetail, error) {
	return r.detail(ctx, `SELECT `+monitorColumns+` FROM task_monitor WHERE task_id = $1`, taskID)
}

// OldestPending returns the profile's earliest pending task. Tasks assigned in the same
// instant are ordered by the creation of their videos.
func (r *PostgresTaskRepository) OldestPending(ctx context.Context, profileID string) (models.TaskDetail, error) {
	return r.detail(ctx, `
        SELECT `+monitorColumns+`
        FROM task_monitor
        WHERE profile_id = $1 AND status = 'pending'
        ORDER BY assigned_at ASC, video_created_at ASC, task_id ASC
        LIMIT 1
    `, profileID)
}

// Complete marks a pending task done with its evidence.
func (r *PostgresTaskRepository) Complete(ctx context.Context, taskID, evidenceURL string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET status = 'done', evidence_url = $2, completed_at = $3, updated_at = $3
        WHERE id = $1 AND status = 'pending'
    `, taskID, evidenceURL, at.UTC())
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset moves a done task back to pending, clearing its evidence. Pending tasks are untouched.
func (r *PostgresTaskRepository) Reset(ctx context.Context, taskID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET status = 'pending', evidence_url = '', completed_at = NULL, updated_at = now()
        WHERE id = $1 AND status = 'done'
    `, taskID)
	if err != nil {
		return false, fmt.Errorf("reset task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// CountPending returns how many tasks the profile still has to complete.
func (r *PostgresTaskRepository) CountPending(ctx context.Context, profileID string) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int
	if err := conn.QueryRow(ctx, `
        SELECT count(*) FROM tasks WHERE profile_id = $1 AND status = 'pending'
    `, profileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return count, nil
}

// ListRecentForProfile returns the profile's latest tasks, newest first.
func (r *PostgresTaskRepository) ListRecentForProfile(ctx context.Context, profileID string, limit int) ([]models.TaskDetail, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.details(ctx, `
        SELECT `+monitorColumns+`
        FROM task_monitor
        WHERE profile_id = $1
        ORDER BY assigned_at DESC, video_created_at DESC
        LIMIT $2
    `, profileID, limit)
}

// ListPending returns every pending task ordered by participant name.
func (r *PostgresTaskRepository) ListPending(ctx context.Context) ([]models.TaskDetail, error) {
	return r.details(ctx, `
        SELECT `+monitorColumns+`
        FROM task_monitor
        WHERE status = 'pending'
        ORDER BY full_name ASC, profile_id ASC, assigned_at ASC, video_created_at ASC
    `)
}

// Monitor returns task monitor rows matching filter, most recently assigned first.
func (r *PostgresTaskRepository) Monitor(ctx context.Context, filter models.TaskFilter) ([]models.TaskDetail, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.VideoID != "" {
		args = append(args, filter.VideoID)
		clauses = append(clauses, fmt.Sprintf("video_id = $%d", len(args)))
	}
	if filter.ProfileID != "" {
		args = append(args, filter.ProfileID)
		clauses = append(clauses, fmt.Sprintf("profile_id = $%d", len(args)))
	}

	query := `SELECT ` + monitorColumns + ` FROM task_monitor`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY assigned_at DESC, task_id ASC`

	return r.details(ctx, query, args...)
}

// Stats reads the dashboard counters.
func (r *PostgresTaskRepository) Stats(ctx context.Context) (models.Stats, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var stats models.Stats
	if err := conn.QueryRow(ctx, `
        SELECT active_profiles, active_videos, pending_tasks, done_tasks
        FROM dashboard_stats
    `).Scan(&stats.ActiveProfiles, &stats.ActiveVideos, &stats.PendingTasks, &stats.DoneTasks); err != nil {
		return models.Stats{}, fmt.Errorf("select dashboard stats: %w", err)
	}
	stats.CompletionPct = completionPct(stats.DoneTasks, stats.PendingTasks)
	return stats, nil
}

func (r *PostgresTaskRepository) detail(ctx context.Context, query string, args ...any) (models.TaskDetail, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.TaskDetail{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	detail, err := scanTaskDetail(conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TaskDetail{}, ErrNotFound
		}
		return models.TaskDetail{}, fmt.Errorf("select task: %w", err)
	}
	return detail, nil
}

func (r *PostgresTaskRepository) details(ctx context.Context, query string, args ...any) ([]models.TaskDetail, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task monitor: %w", err)
	}
	defer rows.Close()

	var details []models.TaskDetail
	for rows.Next() {
		detail, err := scanTaskDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task monitor row: %w", err)
		}
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task monitor: %w", err)
	}

	return details, nil
}

func scanTaskDetail(row pgx.Row) (models.TaskDetail, error) {
	var (
		d      models.TaskDetail
		status string
	)
	if err := row.Scan(&d.TaskID, &status, &d.EvidenceURL, &d.CompletedAt, &d.AssignedAt, &d.VideoID, &d.VideoTitle, &d.VideoURL, &d.ProfileID, &d.TelegramID, &d.FullName); err != nil {
		return models.TaskDetail{}, err
	}
	d.Status = models.TaskStatus(status)
	d.AssignedAt = d.AssignedAt.UTC()
	if d.CompletedAt != nil {
		t := d.CompletedAt.UTC()
		d.CompletedAt = &t
	}
	return d, nil
}

var _ TaskRepository = (*PostgresTaskRepository)(nil)
