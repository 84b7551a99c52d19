package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/example/warden/internal/core/budget"
	"github.com/example/warden/internal/ports/secondary"
)

// BudgetRepository implements secondary.BudgetLedger with SQLite.
// Every counter mutation is a conditional UPDATE so the check and the
// increment happen in one statement; there is no read-then-write window.
type BudgetRepository struct {
	db        *sql.DB
	logWriter secondary.LogWriter
}

// NewBudgetRepository creates a new SQLite budget ledger.
// logWriter is optional - if nil, no audit logging is performed.
func NewBudgetRepository(db *sql.DB, logWriter secondary.LogWriter) *BudgetRepository {
	return &BudgetRepository{db: db, logWriter: logWriter}
}

const counterColumns = `project_id, agent_type, daily_token_limit, daily_cost_limit_micros,
	session_token_limit, tokens_used, cost_used_micros, tokens_reserved, cost_reserved_micros,
	override_tokens, override_cost_micros, emergency_triggered, last_reset_at, updated_at`

// GetOrCreate returns the counter for (project, agent), creating it lazily.
func (r *BudgetRepository) GetOrCreate(ctx context.Context, projectID, agentType string, defaults secondary.BudgetDefaults) (*secondary.BudgetCounterRecord, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budget_counters (project_id, agent_type, daily_token_limit, daily_cost_limit_micros, session_token_limit)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, agent_type) DO NOTHING`,
		projectID, agentType, defaults.DailyTokenLimit, defaults.DailyCostLimitMicros, defaults.SessionTokenLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget counter: %w", err)
	}

	return r.get(ctx, projectID, agentType)
}

func (r *BudgetRepository) get(ctx context.Context, projectID, agentType string) (*secondary.BudgetCounterRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+counterColumns+` FROM budget_counters WHERE project_id = ? AND agent_type = ?`,
		projectID, agentType)
	record, err := scanCounter(row)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget counter: %w", err)
	}
	return record, nil
}

// Reserve counts the reservation against the counter and records the
// reservation row in one transaction. The conditional UPDATE refuses the
// increment when it would push used+reserved above limit+override. A
// reservation ID collision rolls the counter update back and surfaces
// ErrDuplicate; the caller re-allocates and retries.
func (r *BudgetRepository) Reserve(ctx context.Context, reservation *secondary.ReservationRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE budget_counters
		 SET tokens_reserved = tokens_reserved + ?,
		     cost_reserved_micros = cost_reserved_micros + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE project_id = ? AND agent_type = ?
		   AND (daily_token_limit <= 0
		        OR tokens_used + tokens_reserved + ? <= daily_token_limit + override_tokens)
		   AND (daily_cost_limit_micros <= 0
		        OR cost_used_micros + cost_reserved_micros + ? <= daily_cost_limit_micros + override_cost_micros)`,
		reservation.Tokens, reservation.CostMicros,
		reservation.ProjectID, reservation.AgentType,
		reservation.Tokens, reservation.CostMicros)
	if err != nil {
		return fmt.Errorf("failed to reserve budget: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reservation: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM budget_counters WHERE project_id = ? AND agent_type = ?`,
			reservation.ProjectID, reservation.AgentType).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check counter existence: %w", err)
		}
		if exists == 0 {
			return secondary.ErrNotFound
		}
		return secondary.ErrInsufficientBudget
	}

	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (id, project_id, agent_type, tokens, cost_micros, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reservation.ID, reservation.ProjectID, reservation.AgentType,
		reservation.Tokens, reservation.CostMicros,
		secondary.ReservationStateHeld, reservation.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return secondary.ErrDuplicate
		}
		return fmt.Errorf("failed to record reservation: %w", err)
	}
	reservation.State = secondary.ReservationStateHeld

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogCreate(ctx, "reservation", reservation.ID)
	}

	return nil
}

// CommitReservation finalizes a held reservation: the held amounts are
// returned and the actuals are added to used. The reservation row's state
// is the compare-and-swap guard against double finalization.
func (r *BudgetRepository) CommitReservation(ctx context.Context, reservationID string, actualTokens, actualCostMicros int64) error {
	return r.finalize(ctx, reservationID, secondary.ReservationStateCommitted, actualTokens, actualCostMicros)
}

// ReleaseReservation refunds a held reservation in full.
func (r *BudgetRepository) ReleaseReservation(ctx context.Context, reservationID string) error {
	return r.finalize(ctx, reservationID, secondary.ReservationStateReleased, 0, 0)
}

func (r *BudgetRepository) finalize(ctx context.Context, reservationID, toState string, actualTokens, actualCostMicros int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin finalize: %w", err)
	}
	defer tx.Rollback()

	var (
		projectID  string
		agentType  string
		tokens     int64
		costMicros int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT project_id, agent_type, tokens, cost_micros FROM reservations WHERE id = ?`,
		reservationID).Scan(&projectID, &agentType, &tokens, &costMicros)
	if err == sql.ErrNoRows {
		return secondary.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET state = ?, finalized_at = CURRENT_TIMESTAMP WHERE id = ? AND state = ?`,
		toState, reservationID, secondary.ReservationStateHeld)
	if err != nil {
		return fmt.Errorf("failed to finalize reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finalize: %w", err)
	}
	if affected == 0 {
		return secondary.ErrLostRace
	}

	// MAX guards against a reserved balance underflow if a counter was
	// reset while reservations were in flight.
	_, err = tx.ExecContext(ctx,
		`UPDATE budget_counters
		 SET tokens_reserved = MAX(tokens_reserved - ?, 0),
		     cost_reserved_micros = MAX(cost_reserved_micros - ?, 0),
		     tokens_used = tokens_used + ?,
		     cost_used_micros = cost_used_micros + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE project_id = ? AND agent_type = ?`,
		tokens, costMicros, actualTokens, actualCostMicros, projectID, agentType)
	if err != nil {
		return fmt.Errorf("failed to settle counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit finalize: %w", err)
	}

	if r.logWriter != nil {
		_ = r.logWriter.LogUpdate(ctx, "reservation", reservationID, "state", secondary.ReservationStateHeld, toState)
	}

	return nil
}

// GetReservation retrieves a reservation by ID.
func (r *BudgetRepository) GetReservation(ctx context.Context, reservationID string) (*secondary.ReservationRecord, error) {
	var (
		record      secondary.ReservationRecord
		finalizedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, project_id, agent_type, tokens, cost_micros, state, created_at, finalized_at
		 FROM reservations WHERE id = ?`, reservationID).Scan(
		&record.ID, &record.ProjectID, &record.AgentType,
		&record.Tokens, &record.CostMicros, &record.State,
		&record.CreatedAt, &finalizedAt)
	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time.UTC()
		record.FinalizedAt = &t
	}
	return &record, nil
}

// ListReservationsByState retrieves a project's reservations in the given state.
func (r *BudgetRepository) ListReservationsByState(ctx context.Context, projectID, state string) ([]*secondary.ReservationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, agent_type, tokens, cost_micros, state, created_at, finalized_at
		 FROM reservations WHERE project_id = ? AND state = ? ORDER BY created_at`,
		projectID, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var records []*secondary.ReservationRecord
	for rows.Next() {
		var (
			record      secondary.ReservationRecord
			finalizedAt sql.NullTime
		)
		if err := rows.Scan(&record.ID, &record.ProjectID, &record.AgentType,
			&record.Tokens, &record.CostMicros, &record.State,
			&record.CreatedAt, &finalizedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		if finalizedAt.Valid {
			t := finalizedAt.Time.UTC()
			record.FinalizedAt = &t
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// GrantOverride raises the override headroom for a counter.
func (r *BudgetRepository) GrantOverride(ctx context.Context, projectID, agentType string, tokens, costMicros int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE budget_counters
		 SET override_tokens = override_tokens + ?,
		     override_cost_micros = override_cost_micros + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE project_id = ? AND agent_type = ?`,
		tokens, costMicros, projectID, agentType)
	if err != nil {
		return fmt.Errorf("failed to grant override: %w", err)
	}
	return requireRow(result)
}

// SetLimits replaces the configured limits for a counter.
func (r *BudgetRepository) SetLimits(ctx context.Context, projectID, agentType string, dailyTokens, dailyCostMicros, sessionTokens int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE budget_counters
		 SET daily_token_limit = ?, daily_cost_limit_micros = ?, session_token_limit = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE project_id = ? AND agent_type = ?`,
		dailyTokens, dailyCostMicros, sessionTokens, projectID, agentType)
	if err != nil {
		return fmt.Errorf("failed to set limits: %w", err)
	}
	return requireRow(result)
}

// SetEmergencyTriggered flags/unflags the counter's emergency marker.
func (r *BudgetRepository) SetEmergencyTriggered(ctx context.Context, projectID, agentType string, triggered bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE budget_counters SET emergency_triggered = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE project_id = ? AND agent_type = ?`,
		boolToInt(triggered), projectID, agentType)
	if err != nil {
		return fmt.Errorf("failed to set emergency flag: %w", err)
	}
	return requireRow(result)
}

// ResetDue zeroes used amounts and override headroom for counters whose
// boundary has passed. The last_reset_at compare-and-swap keeps a racing
// sweep from double-resetting. Held reservations stay counted.
func (r *BudgetRepository) ResetDue(ctx context.Context, now time.Time, mode string) (int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT project_id, agent_type, last_reset_at FROM budget_counters`)
	if err != nil {
		return 0, fmt.Errorf("failed to list counters: %w", err)
	}
	defer rows.Close()

	type dueKey struct {
		projectID string
		agentType string
		lastReset time.Time
	}
	var due []dueKey
	for rows.Next() {
		var key dueKey
		if err := rows.Scan(&key.projectID, &key.agentType, &key.lastReset); err != nil {
			return 0, fmt.Errorf("failed to scan counter: %w", err)
		}
		if budget.ResetDue(key.lastReset, now, mode) {
			due = append(due, key)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	reset := 0
	for _, key := range due {
		result, err := r.db.ExecContext(ctx,
			`UPDATE budget_counters
			 SET tokens_used = 0, cost_used_micros = 0,
			     override_tokens = 0, override_cost_micros = 0,
			     last_reset_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE project_id = ? AND agent_type = ? AND datetime(last_reset_at) = datetime(?)`,
			now.UTC(), key.projectID, key.agentType, key.lastReset)
		if err != nil {
			return reset, fmt.Errorf("failed to reset counter: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return reset, err
		}
		if affected > 0 {
			reset++
			if r.logWriter != nil {
				_ = r.logWriter.LogEvent(ctx, "budget", key.projectID+"/"+key.agentType, "daily reset")
			}
		}
	}
	return reset, nil
}

// ListByProject retrieves all counters for a project.
func (r *BudgetRepository) ListByProject(ctx context.Context, projectID string) ([]*secondary.BudgetCounterRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+counterColumns+` FROM budget_counters WHERE project_id = ? ORDER BY agent_type`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget counters: %w", err)
	}
	defer rows.Close()

	var records []*secondary.BudgetCounterRecord
	for rows.Next() {
		record, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget counter: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetNextReservationID returns the next available reservation ID.
func (r *BudgetRepository) GetNextReservationID(ctx context.Context) (string, error) {
	var maxID int
	prefixLen := len("RSV-") + 1
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(CAST(SUBSTR(id, %d) AS INTEGER)), 0) FROM reservations", prefixLen),
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next reservation ID: %w", err)
	}

	return fmt.Sprintf("RSV-%03d", maxID+1), nil
}

func scanCounter(s scanner) (*secondary.BudgetCounterRecord, error) {
	var (
		record    secondary.BudgetCounterRecord
		emergency int
	)
	err := s.Scan(
		&record.ProjectID, &record.AgentType,
		&record.DailyTokenLimit, &record.DailyCostLimitMicros, &record.SessionTokenLimit,
		&record.TokensUsed, &record.CostUsedMicros,
		&record.TokensReserved, &record.CostReservedMicros,
		&record.OverrideTokens, &record.OverrideCostMicros,
		&emergency, &record.LastResetAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.EmergencyTriggered = emergency != 0
	return &record, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return secondary.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure BudgetRepository implements the interface
var _ secondary.BudgetLedger = (*BudgetRepository)(nil)
