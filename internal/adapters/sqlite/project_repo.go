package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/warden/internal/ports/secondary"
)

// ProjectRepository implements secondary.ProjectRepository with SQLite.
type ProjectRepository struct {
	db        *sql.DB
	logWriter secondary.LogWriter
}

// NewProjectRepository creates a new SQLite project repository.
// logWriter is optional - if nil, no audit logging is performed.
func NewProjectRepository(db *sql.DB, logWriter secondary.LogWriter) *ProjectRepository {
	return &ProjectRepository{db: db, logWriter: logWriter}
}

// Create persists a new project.
func (r *ProjectRepository) Create(ctx context.Context, project *secondary.ProjectRecord) error {
	if project.Status == "" {
		project.Status = secondary.ProjectStatusActive
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, status, created_at) VALUES (?, ?, ?, ?)`,
		project.ID, project.Name, project.Status, project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogCreate(ctx, "project", project.ID)
	}

	return nil
}

// GetByID retrieves a project by its ID.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*secondary.ProjectRecord, error) {
	record := &secondary.ProjectRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&record.ID, &record.Name, &record.Status, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return record, nil
}

// SetStatus updates a project's status.
func (r *ProjectRepository) SetStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogUpdate(ctx, "project", id, "status", "", status)
	}

	return nil
}

// List retrieves all projects.
func (r *ProjectRepository) List(ctx context.Context) ([]*secondary.ProjectRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, status, created_at, updated_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var records []*secondary.ProjectRecord
	for rows.Next() {
		record := &secondary.ProjectRecord{}
		if err := rows.Scan(&record.ID, &record.Name, &record.Status, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetNextID returns the next available project ID.
func (r *ProjectRepository) GetNextID(ctx context.Context) (string, error) {
	var maxID int
	prefixLen := len("PRJ-") + 1
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(CAST(SUBSTR(id, %d) AS INTEGER)), 0) FROM projects", prefixLen),
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next project ID: %w", err)
	}

	return fmt.Sprintf("PRJ-%03d", maxID+1), nil
}

// Ensure ProjectRepository implements the interface
var _ secondary.ProjectRepository = (*ProjectRepository)(nil)
