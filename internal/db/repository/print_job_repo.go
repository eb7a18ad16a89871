package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pizza-nz/print-agent/internal/models"
)

// PrintJobRepository keeps the history of print attempts
type PrintJobRepository struct {
	db *sqlx.DB
}

// NewPrintJobRepository creates a new print job repository
func NewPrintJobRepository(db *sqlx.DB) *PrintJobRepository {
	return &PrintJobRepository{db: db}
}

type printJobRow struct {
	JobID     string    `db:"job_id"`
	OrderID   string    `db:"order_id"`
	Role      string    `db:"role"`
	Backend   string    `db:"backend"`
	Fallback  bool      `db:"fallback"`
	Error     string    `db:"error"`
	PrintedAt time.Time `db:"printed_at"`
}

// Record stores the outcome of one print job
func (r *PrintJobRepository) Record(ctx context.Context, result models.PrintResult) error {
	query := r.db.Rebind(`
		INSERT INTO print_jobs (job_id, order_id, role, backend, fallback, error, printed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		result.JobID,
		result.OrderID,
		string(result.Role),
		string(result.Backend),
		result.Fallback,
		result.Error,
		result.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record print job: %w", err)
	}
	return nil
}

// ListRecent retrieves the latest print jobs, newest first
func (r *PrintJobRepository) ListRecent(ctx context.Context, limit int) ([]models.PrintResult, error) {
	query := r.db.Rebind(`
		SELECT job_id, order_id, role, backend, fallback, error, printed_at
		FROM print_jobs
		ORDER BY printed_at DESC
		LIMIT ?
	`)

	var rows []printJobRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list print jobs: %w", err)
	}

	results := make([]models.PrintResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.PrintResult{
			JobID:    row.JobID,
			OrderID:  row.OrderID,
			Role:     models.Role(row.Role),
			Backend:  models.BackendKind(row.Backend),
			Fallback: row.Fallback,
			Error:    row.Error,
			At:       row.PrintedAt,
		})
	}
	return results, nil
}

// DeleteBefore removes jobs printed before cutoff
func (r *PrintJobRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM print_jobs WHERE printed_at < ?`)

	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete print jobs: %w", err)
	}
	return result.RowsAffected()
}
