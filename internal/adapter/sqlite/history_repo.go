package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

const runColumns = `
	id, identifier, original_input, output_dir, session_path, status,
	total_files, completed_files, failed_files, skipped_files,
	total_bytes, downloaded_bytes, error_message, started_at, completed_at`

// CreateRun inserts a run in the running state
func (s *Store) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO download_runs (
			id, identifier, original_input, output_dir, session_path, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Identifier, run.OriginalInput, run.OutputDir,
		nullString(run.SessionPath), run.Status, run.StartedAt.UTC())
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("run %s already recorded: %w", run.ID, err)
		}
		return err
	}
	return nil
}

// FinishRun stores the final counters and status of a run
func (s *Store) FinishRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
		UPDATE download_runs
		SET status = ?,
			session_path = ?,
			total_files = ?,
			completed_files = ?,
			failed_files = ?,
			skipped_files = ?,
			total_bytes = ?,
			downloaded_bytes = ?,
			error_message = ?,
			completed_at = ?
		WHERE id = ?
	`

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		run.Status, nullString(run.SessionPath),
		run.TotalFiles, run.CompletedFiles, run.FailedFiles, run.SkippedFiles,
		run.TotalBytes, run.DownloadedBytes, nullString(run.ErrorMessage),
		completedAt, run.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM download_runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRecent returns the newest runs, optionally for a single identifier
func (s *Store) ListRecent(ctx context.Context, identifier string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + runColumns + ` FROM download_runs`
	args := []any{}
	if identifier != "" {
		query += ` WHERE identifier = ?`
		args = append(args, identifier)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetStats aggregates all recorded runs
func (s *Store) GetStats(ctx context.Context) (*domain.HistoryStats, error) {
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(downloaded_bytes), 0)
		FROM download_runs
	`

	stats := &domain.HistoryStats{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRuns, &stats.CompletedRuns, &stats.FailedRuns, &stats.DownloadedBytes)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// PruneOlderThan removes finished runs started before now minus age
func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	threshold := time.Now().Add(-age).UTC()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM download_runs WHERE status != 'running' AND started_at < ?`, threshold)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	run := &domain.RunRecord{}
	var sessionPath, errorMessage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.Identifier, &run.OriginalInput, &run.OutputDir, &sessionPath, &run.Status,
		&run.TotalFiles, &run.CompletedFiles, &run.FailedFiles, &run.SkippedFiles,
		&run.TotalBytes, &run.DownloadedBytes, &errorMessage, &run.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if sessionPath.Valid {
		run.SessionPath = sessionPath.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
