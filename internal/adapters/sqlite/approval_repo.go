// Package sqlite contains SQLite implementations of the ledger interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/example/warden/internal/ports/secondary"
)

// ApprovalRepository implements secondary.ApprovalLedger with SQLite.
type ApprovalRepository struct {
	db        *sql.DB
	logWriter secondary.LogWriter
}

// NewApprovalRepository creates a new SQLite approval ledger.
// logWriter is optional - if nil, no audit logging is performed.
func NewApprovalRepository(db *sql.DB, logWriter secondary.LogWriter) *ApprovalRepository {
	return &ApprovalRepository{db: db, logWriter: logWriter}
}

const approvalColumns = `id, project_id, task_id, agent_type, kind, action, input_summary,
	estimated_tokens, estimated_cost_micros, risk_flags, status, reason, resolver, comment,
	created_at, expires_at, resolved_at`

// Create persists a new approval request. The partial unique index on
// (task_id, kind) WHERE status='pending' makes duplicate live requests a
// constraint violation, translated to ErrDuplicate.
func (r *ApprovalRepository) Create(ctx context.Context, approval *secondary.ApprovalRecord) error {
	flagsJSON, err := json.Marshal(approval.RiskFlags)
	if err != nil {
		return fmt.Errorf("failed to encode risk flags: %w", err)
	}

	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO approvals (id, project_id, task_id, agent_type, kind, action, input_summary,
			estimated_tokens, estimated_cost_micros, risk_flags, status, reason, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		approval.ID,
		approval.ProjectID,
		approval.TaskID,
		approval.AgentType,
		approval.Kind,
		approval.Action,
		nullString(approval.InputSummary),
		approval.EstimatedTokens,
		approval.EstimatedCostMicros,
		string(flagsJSON),
		secondary.ApprovalStatusPending,
		nullString(approval.Reason),
		approval.CreatedAt,
		approval.ExpiresAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return secondary.ErrDuplicate
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}
	approval.Status = secondary.ApprovalStatusPending

	if r.logWriter != nil {
		_ = r.logWriter.LogCreate(ctx, "approval", approval.ID)
	}

	return nil
}

// GetByID retrieves an approval by its ID.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*secondary.ApprovalRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
	record, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return record, nil
}

// GetPendingByTaskKind retrieves the live PENDING approval for a (task, kind) pair.
func (r *ApprovalRepository) GetPendingByTaskKind(ctx context.Context, taskID, kind string) (*secondary.ApprovalRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE task_id = ? AND kind = ? AND status = ?`,
		taskID, kind, secondary.ApprovalStatusPending)
	record, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	return record, nil
}

// CompareAndSwapStatus transitions status from -> to. Exactly one racing
// caller wins; losers get ErrLostRace and should re-read the record.
func (r *ApprovalRepository) CompareAndSwapStatus(ctx context.Context, id, from, to, resolver, comment, reason string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE approvals
		 SET status = ?, resolver = ?, comment = ?, reason = ?, resolved_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		to, nullString(resolver), nullString(comment), nullString(reason), id, from)
	if err != nil {
		return fmt.Errorf("failed to update approval status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check approval update: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM approvals WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check approval existence: %w", err)
		}
		if exists == 0 {
			return secondary.ErrNotFound
		}
		return secondary.ErrLostRace
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogUpdate(ctx, "approval", id, "status", from, to)
	}

	return nil
}

// List retrieves approvals matching the given filters, newest first.
func (r *ApprovalRepository) List(ctx context.Context, filters secondary.ApprovalFilters) ([]*secondary.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE 1=1`
	args := []any{}

	if filters.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filters.ProjectID)
	}
	if filters.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, filters.TaskID)
	}
	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}
	if filters.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filters.Kind)
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var records []*secondary.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListOverdue retrieves PENDING approvals whose expiry has passed.
func (r *ApprovalRepository) ListOverdue(ctx context.Context, now time.Time) ([]*secondary.ApprovalRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE status = ? AND expires_at <= ?`,
		secondary.ApprovalStatusPending, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue approvals: %w", err)
	}
	defer rows.Close()

	var records []*secondary.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetNextID returns the next available approval ID.
func (r *ApprovalRepository) GetNextID(ctx context.Context) (string, error) {
	var maxID int
	prefixLen := len("APR-") + 1
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(CAST(SUBSTR(id, %d) AS INTEGER)), 0) FROM approvals", prefixLen),
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next approval ID: %w", err)
	}

	return fmt.Sprintf("APR-%03d", maxID+1), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(s scanner) (*secondary.ApprovalRecord, error) {
	var (
		record       secondary.ApprovalRecord
		inputSummary sql.NullString
		flagsJSON    string
		reason       sql.NullString
		resolver     sql.NullString
		comment      sql.NullString
		resolvedAt   sql.NullTime
	)

	err := s.Scan(
		&record.ID, &record.ProjectID, &record.TaskID, &record.AgentType, &record.Kind,
		&record.Action, &inputSummary,
		&record.EstimatedTokens, &record.EstimatedCostMicros, &flagsJSON,
		&record.Status, &reason, &resolver, &comment,
		&record.CreatedAt, &record.ExpiresAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	record.InputSummary = inputSummary.String
	record.Reason = reason.String
	record.Resolver = resolver.String
	record.Comment = comment.String
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		record.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(flagsJSON), &record.RiskFlags); err != nil {
		return nil, fmt.Errorf("failed to decode risk flags: %w", err)
	}

	return &record, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Ensure ApprovalRepository implements the interface
var _ secondary.ApprovalLedger = (*ApprovalRepository)(nil)
