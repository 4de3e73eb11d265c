package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the run journal
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Run Operations
// ============================================================================

// CreateRun inserts a new Run
func (s *Store) CreateRun(run *Run) error {
	const query = `
		INSERT INTO runs (id, started_at, finished_at, dry_run, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		run.ID, run.StartedAt, nullableTime(run.FinishedAt), run.DryRun,
		run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with the given status and optional error
func (s *Store) FinishRun(id string, status string, errorMessage string) error {
	const query = `
		UPDATE runs SET finished_at = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, time.Now(), status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a Run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	const query = `
		SELECT id, started_at, finished_at, dry_run, status, error_message
		FROM runs WHERE id = ?
	`

	run := &Run{}
	var finished sql.NullTime
	var errMsg sql.NullString
	err := s.db.QueryRow(query, id).Scan(
		&run.ID, &run.StartedAt, &finished, &run.DryRun, &run.Status, &errMsg,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	if errMsg.Valid {
		run.ErrorMessage = errMsg.String
	}
	return run, nil
}

// ListRuns retrieves the most recent runs
func (s *Store) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, started_at, finished_at, dry_run, status, error_message
		FROM runs
		ORDER BY started_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run := Run{}
		var finished sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.DryRun, &run.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ============================================================================
// Step Operations
// ============================================================================

// RecordStep inserts a StepRecord and sets its ID
func (s *Store) RecordStep(rec *StepRecord) error {
	const query = `
		INSERT INTO steps (run_id, seq, step_id, description, destructive, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		rec.RunID, rec.Seq, rec.StepID, rec.Description,
		rec.Destructive, rec.Status, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get step id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListSteps retrieves all steps for a run in execution order
func (s *Store) ListSteps(runID string) ([]StepRecord, error) {
	const query = `
		SELECT id, run_id, seq, step_id, description, destructive, status, detail, created_at
		FROM steps WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		rec := StepRecord{}
		var detail sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Seq, &rec.StepID, &rec.Description,
			&rec.Destructive, &rec.Status, &detail, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if detail.Valid {
			rec.Detail = detail.String
		}
		steps = append(steps, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// ============================================================================
// Backup Operations
// ============================================================================

// RecordBackup inserts a BackupRecord
func (s *Store) RecordBackup(rec *BackupRecord) error {
	const query = `
		INSERT INTO backups (id, run_id, source, dest, size_bytes, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		rec.ID, rec.RunID, rec.Source, rec.Dest,
		rec.SizeBytes, rec.Verified, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup: %w", err)
	}
	return nil
}

// ListBackups retrieves the most recent backup records
func (s *Store) ListBackups(limit int) ([]BackupRecord, error) {
	query := `
		SELECT id, run_id, source, dest, size_bytes, verified, created_at
		FROM backups
		ORDER BY created_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var backups []BackupRecord
	for rows.Next() {
		rec := BackupRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Source, &rec.Dest,
			&rec.SizeBytes, &rec.Verified, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}
	return backups, nil
}

// nullableTime converts a zero time to NULL
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
