package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/warden/internal/ports/secondary"
)

// EmergencyStopRepository implements secondary.EmergencyStopRepository with SQLite.
type EmergencyStopRepository struct {
	db        *sql.DB
	logWriter secondary.LogWriter
}

// NewEmergencyStopRepository creates a new SQLite emergency stop repository.
// logWriter is optional - if nil, no audit logging is performed.
func NewEmergencyStopRepository(db *sql.DB, logWriter secondary.LogWriter) *EmergencyStopRepository {
	return &EmergencyStopRepository{db: db, logWriter: logWriter}
}

const stopColumns = `id, project_id, conditions, severity, reason, affected_tasks, created_at, resolved_at`

// Create persists a new emergency stop record.
func (r *EmergencyStopRepository) Create(ctx context.Context, stop *secondary.EmergencyStopRecord) error {
	conditionsJSON, err := json.Marshal(stop.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	tasksJSON, err := json.Marshal(stop.AffectedTasks)
	if err != nil {
		return fmt.Errorf("failed to encode affected tasks: %w", err)
	}

	if stop.CreatedAt.IsZero() {
		stop.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO emergency_stops (id, project_id, conditions, severity, reason, affected_tasks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stop.ID, stop.ProjectID, string(conditionsJSON), stop.Severity, stop.Reason,
		string(tasksJSON), stop.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create emergency stop: %w", err)
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogCreate(ctx, "emergency_stop", stop.ID)
	}

	return nil
}

// GetByID retrieves a stop record by ID.
func (r *EmergencyStopRepository) GetByID(ctx context.Context, id string) (*secondary.EmergencyStopRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stopColumns+` FROM emergency_stops WHERE id = ?`, id)
	record, err := scanStop(row)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emergency stop: %w", err)
	}
	return record, nil
}

// GetActiveByProject retrieves the unresolved stop record for a project.
func (r *EmergencyStopRepository) GetActiveByProject(ctx context.Context, projectID string) (*secondary.EmergencyStopRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stopColumns+` FROM emergency_stops
		 WHERE project_id = ? AND resolved_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, projectID)
	record, err := scanStop(row)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active emergency stop: %w", err)
	}
	return record, nil
}

// Resolve stamps resolved_at on a stop record.
func (r *EmergencyStopRepository) Resolve(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE emergency_stops SET resolved_at = CURRENT_TIMESTAMP WHERE id = ? AND resolved_at IS NULL`,
		id)
	if err != nil {
		return fmt.Errorf("failed to resolve emergency stop: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogUpdate(ctx, "emergency_stop", id, "resolved", "", "true")
	}

	return nil
}

// List retrieves stop records for a project, newest first.
func (r *EmergencyStopRepository) List(ctx context.Context, projectID string) ([]*secondary.EmergencyStopRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stopColumns+` FROM emergency_stops WHERE project_id = ? ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency stops: %w", err)
	}
	defer rows.Close()

	var records []*secondary.EmergencyStopRecord
	for rows.Next() {
		record, err := scanStop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emergency stop: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetNextID returns the next available stop record ID.
func (r *EmergencyStopRepository) GetNextID(ctx context.Context) (string, error) {
	var maxID int
	prefixLen := len("STOP-") + 1
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(CAST(SUBSTR(id, %d) AS INTEGER)), 0) FROM emergency_stops", prefixLen),
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next emergency stop ID: %w", err)
	}

	return fmt.Sprintf("STOP-%03d", maxID+1), nil
}

func scanStop(s scanner) (*secondary.EmergencyStopRecord, error) {
	var (
		record         secondary.EmergencyStopRecord
		conditionsJSON string
		tasksJSON      string
		resolvedAt     sql.NullTime
	)
	err := s.Scan(
		&record.ID, &record.ProjectID, &conditionsJSON, &record.Severity,
		&record.Reason, &tasksJSON, &record.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		record.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &record.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(tasksJSON), &record.AffectedTasks); err != nil {
		return nil, fmt.Errorf("failed to decode affected tasks: %w", err)
	}
	return &record, nil
}

// Ensure EmergencyStopRepository implements the interface
var _ secondary.EmergencyStopRepository = (*EmergencyStopRepository)(nil)
