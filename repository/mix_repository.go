package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"AutoFM/db"
	"AutoFM/model"
)

// MixRepository defines the interface for mix data operations. All
// status mutations are conditional on the current status so that
// concurrent readers only ever observe monotonic transitions.
type MixRepository interface {
	CreateMix(ctx context.Context, mix *model.Mix) error
	GetMixByID(ctx context.Context, id string) (*model.Mix, error)
	GetAllMixes(ctx context.Context, genre string) ([]*model.Mix, error)
	// TransitionStatus moves the mix from one status to another and
	// reports whether the row actually changed.
	TransitionStatus(ctx context.Context, id string, from, to model.MixStatus) (bool, error)
	// MarkCompleted transitions processing -> completed together with
	// the final duration and artifact reference.
	MarkCompleted(ctx context.Context, id string, duration float64, artifactPath string) (bool, error)
	// MarkFailed transitions a non-terminal status -> failed with a reason.
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
	DeleteMix(ctx context.Context, id string) error
}

// mysqlMixRepository implements MixRepository for MySQL.
type mysqlMixRepository struct {
	DB *sql.DB
}

// NewMySQLMixRepository creates a new instance of mysqlMixRepository.
func NewMySQLMixRepository() MixRepository {
	return &mysqlMixRepository{DB: db.DB}
}

const mixColumns = `id, title, genre, requested_minutes, status, duration, artifact_path, fail_reason, created_at, completed_at`

// CreateMix adds a new mix record to the database.
func (r *mysqlMixRepository) CreateMix(ctx context.Context, mix *model.Mix) error {
	query := `INSERT INTO mixes (id, title, genre, requested_minutes, status, artifact_path, fail_reason, created_at)
	           VALUES (?, ?, ?, ?, ?, '', '', ?)`
	stmt, err := r.DB.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for CreateMix: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, mix.ID, mix.Title, mix.Genre, mix.RequestedMinutes, mix.Status, mix.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute CreateMix: %w", err)
	}
	return nil
}

func scanMix(scan func(dest ...interface{}) error) (*model.Mix, error) {
	mix := &model.Mix{}
	var duration sql.NullFloat64
	var completedAt sql.NullTime
	err := scan(&mix.ID, &mix.Title, &mix.Genre, &mix.RequestedMinutes, &mix.Status,
		&duration, &mix.ArtifactPath, &mix.FailReason, &mix.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if duration.Valid {
		mix.Duration = duration.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		mix.CompletedAt = &t
	}
	return mix, nil
}

// GetMixByID retrieves a mix by its ID. Returns (nil, nil) when absent.
func (r *mysqlMixRepository) GetMixByID(ctx context.Context, id string) (*model.Mix, error) {
	query := `SELECT ` + mixColumns + ` FROM mixes WHERE id = ?`
	row := r.DB.QueryRowContext(ctx, query, id)

	mix, err := scanMix(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // mix not found
		}
		return nil, fmt.Errorf("failed to scan mix by ID %s: %w", id, err)
	}
	return mix, nil
}

// GetAllMixes retrieves all mixes, optionally filtered by genre.
func (r *mysqlMixRepository) GetAllMixes(ctx context.Context, genre string) ([]*model.Mix, error) {
	query := `SELECT ` + mixColumns + ` FROM mixes ORDER BY created_at DESC`
	args := []interface{}{}
	if genre != "" {
		query = `SELECT ` + mixColumns + ` FROM mixes WHERE genre = ? ORDER BY created_at DESC`
		args = append(args, genre)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mixes: %w", err)
	}
	defer rows.Close()

	mixes := make([]*model.Mix, 0)
	for rows.Next() {
		mix, err := scanMix(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mix in GetAllMixes: %w", err)
		}
		mixes = append(mixes, mix)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetAllMixes: %w", err)
	}

	return mixes, nil
}

// TransitionStatus performs a guarded status update. The WHERE clause
// on the current status is what keeps observed transitions monotonic
// even with a concurrent cancel or crash-retry.
func (r *mysqlMixRepository) TransitionStatus(ctx context.Context, id string, from, to model.MixStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal mix transition %s -> %s", from, to)
	}

	query := `UPDATE mixes SET status = ? WHERE id = ? AND status = ?`
	res, err := r.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to execute TransitionStatus for mix %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for mix %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkCompleted finalizes a successfully rendered mix.
func (r *mysqlMixRepository) MarkCompleted(ctx context.Context, id string, duration float64, artifactPath string) (bool, error) {
	query := `UPDATE mixes SET status = ?, duration = ?, artifact_path = ?, completed_at = ?
	           WHERE id = ? AND status = ?`
	res, err := r.DB.ExecContext(ctx, query, model.MixCompleted, duration, artifactPath, time.Now(), id, model.MixProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to execute MarkCompleted for mix %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for mix %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkFailed finalizes a failed mix with a human-readable reason.
// Failing is legal from both pending and processing, but never from a
// terminal status.
func (r *mysqlMixRepository) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	query := `UPDATE mixes SET status = ?, fail_reason = ?, completed_at = ?
	           WHERE id = ? AND status IN (?, ?)`
	res, err := r.DB.ExecContext(ctx, query, model.MixFailed, reason, time.Now(), id, model.MixPending, model.MixProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to execute MarkFailed for mix %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for mix %s: %w", id, err)
	}
	return n == 1, nil
}

// DeleteMix removes a mix record.
func (r *mysqlMixRepository) DeleteMix(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM mixes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to execute DeleteMix for mix %s: %w", id, err)
	}
	return nil
}
