package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/warden/internal/ctxutil"
	"github.com/example/warden/internal/ports/secondary"
)

// LogWriterAdapter implements secondary.LogWriter against the audit_log table.
// The audit log is append-only; failures here are reported to callers but
// repositories treat them as best-effort.
type LogWriterAdapter struct {
	db *sql.DB
}

// NewLogWriterAdapter creates a new LogWriterAdapter.
func NewLogWriterAdapter(db *sql.DB) *LogWriterAdapter {
	return &LogWriterAdapter{db: db}
}

// LogCreate logs a create operation for an entity.
func (w *LogWriterAdapter) LogCreate(ctx context.Context, entityType, entityID string) error {
	return w.writeLog(ctx, entityType, entityID, "create", "", "", "")
}

// LogUpdate logs an update operation for an entity field.
func (w *LogWriterAdapter) LogUpdate(ctx context.Context, entityType, entityID, fieldName, oldValue, newValue string) error {
	return w.writeLog(ctx, entityType, entityID, "update", fieldName, oldValue, newValue)
}

// LogEvent logs a free-form governor event.
func (w *LogWriterAdapter) LogEvent(ctx context.Context, entityType, entityID, event string) error {
	return w.writeLog(ctx, entityType, entityID, "event", "", "", event)
}

// writeLog writes a log entry with common logic.
func (w *LogWriterAdapter) writeLog(ctx context.Context, entityType, entityID, operation, fieldName, oldValue, newValue string) error {
	actorID := ctxutil.ActorFromContext(ctx)

	_, err := w.db.ExecContext(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, operation, field_name, old_value, new_value, actor)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityType, entityID, operation,
		nullString(fieldName), nullString(oldValue), nullString(newValue), nullString(actorID))
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Ensure LogWriterAdapter implements the interface
var _ secondary.LogWriter = (*LogWriterAdapter)(nil)
