package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/warden/internal/ports/secondary"
)

// RecoveryRepository implements secondary.RecoveryRepository with SQLite.
type RecoveryRepository struct {
	db        *sql.DB
	logWriter secondary.LogWriter
}

// NewRecoveryRepository creates a new SQLite recovery repository.
// logWriter is optional - if nil, no audit logging is performed.
func NewRecoveryRepository(db *sql.DB, logWriter secondary.LogWriter) *RecoveryRepository {
	return &RecoveryRepository{db: db, logWriter: logWriter}
}

// CreateSession persists a session and its ordered steps in one transaction.
func (r *RecoveryRepository) CreateSession(ctx context.Context, session *secondary.RecoverySessionRecord, steps []*secondary.RecoveryStepRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session create: %w", err)
	}
	defer tx.Rollback()

	if session.Status == "" {
		session.Status = secondary.RecoveryStatusAssessment
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recovery_sessions (id, project_id, stop_id, status, current_step, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.ProjectID, session.StopID, session.Status, session.CurrentStep, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create recovery session: %w", err)
	}

	for _, step := range steps {
		if step.Approval == "" {
			step.Approval = secondary.StepApprovalPending
		}
		if step.State == "" {
			step.State = secondary.StepStatePending
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recovery_steps (session_id, seq, description, action, approval, state)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			session.ID, step.Seq, step.Description, step.Action, step.Approval, step.State)
		if err != nil {
			return fmt.Errorf("failed to create recovery step %d: %w", step.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session create: %w", err)
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogCreate(ctx, "recovery_session", session.ID)
	}

	return nil
}

// GetSession retrieves a session and its steps ordered by seq.
func (r *RecoveryRepository) GetSession(ctx context.Context, id string) (*secondary.RecoverySessionRecord, []*secondary.RecoveryStepRecord, error) {
	session := &secondary.RecoverySessionRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, project_id, stop_id, status, current_step, created_at, updated_at
		 FROM recovery_sessions WHERE id = ?`, id).Scan(
		&session.ID, &session.ProjectID, &session.StopID, &session.Status,
		&session.CurrentStep, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get recovery session: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, seq, description, action, approval, state, approved_by, executed_at
		 FROM recovery_steps WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list recovery steps: %w", err)
	}
	defer rows.Close()

	var steps []*secondary.RecoveryStepRecord
	for rows.Next() {
		step := &secondary.RecoveryStepRecord{}
		var (
			approvedBy sql.NullString
			executedAt sql.NullTime
		)
		if err := rows.Scan(&step.SessionID, &step.Seq, &step.Description, &step.Action,
			&step.Approval, &step.State, &approvedBy, &executedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan recovery step: %w", err)
		}
		step.ApprovedBy = approvedBy.String
		if executedAt.Valid {
			t := executedAt.Time.UTC()
			step.ExecutedAt = &t
		}
		steps = append(steps, step)
	}
	return session, steps, rows.Err()
}

// GetActiveByProject retrieves the non-terminal session for a project.
func (r *RecoveryRepository) GetActiveByProject(ctx context.Context, projectID string) (*secondary.RecoverySessionRecord, error) {
	session := &secondary.RecoverySessionRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, project_id, stop_id, status, current_step, created_at, updated_at
		 FROM recovery_sessions
		 WHERE project_id = ? AND status NOT IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		projectID, secondary.RecoveryStatusCompleted, secondary.RecoveryStatusAborted).Scan(
		&session.ID, &session.ProjectID, &session.StopID, &session.Status,
		&session.CurrentStep, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active recovery session: %w", err)
	}
	return session, nil
}

// UpdateSessionStatus updates a session's status and current step index.
func (r *RecoveryRepository) UpdateSessionStatus(ctx context.Context, id, status string, currentStep int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE recovery_sessions SET status = ?, current_step = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status, currentStep, id)
	if err != nil {
		return fmt.Errorf("failed to update recovery session: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogUpdate(ctx, "recovery_session", id, "status", "", status)
	}

	return nil
}

// SetStepApproval records a step's approval outcome. Compare-and-swap on the
// pending approval: a second decision gets ErrLostRace.
func (r *RecoveryRepository) SetStepApproval(ctx context.Context, sessionID string, seq int, approval, approvedBy string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE recovery_steps SET approval = ?, approved_by = ?
		 WHERE session_id = ? AND seq = ? AND approval = ?`,
		approval, nullString(approvedBy), sessionID, seq, secondary.StepApprovalPending)
	if err != nil {
		return fmt.Errorf("failed to set step approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM recovery_steps WHERE session_id = ? AND seq = ?`,
			sessionID, seq).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check step existence: %w", err)
		}
		if exists == 0 {
			return secondary.ErrNotFound
		}
		return secondary.ErrLostRace
	}

	return nil
}

// SetStepState updates a step's execution state, stamping executed_at.
func (r *RecoveryRepository) SetStepState(ctx context.Context, sessionID string, seq int, state string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE recovery_steps SET state = ?, executed_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND seq = ?`,
		state, sessionID, seq)
	if err != nil {
		return fmt.Errorf("failed to set step state: %w", err)
	}
	return requireRow(result)
}

// GetNextID returns the next available session ID.
func (r *RecoveryRepository) GetNextID(ctx context.Context) (string, error) {
	var maxID int
	prefixLen := len("RSES-") + 1
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(CAST(SUBSTR(id, %d) AS INTEGER)), 0) FROM recovery_sessions", prefixLen),
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next recovery session ID: %w", err)
	}

	return fmt.Sprintf("RSES-%03d", maxID+1), nil
}

// Ensure RecoveryRepository implements the interface
var _ secondary.RecoveryRepository = (*RecoveryRepository)(nil)
