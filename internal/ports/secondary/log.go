package secondary

import "context"

// LogWriter defines the interface for writing audit log entries.
// Implementations extract actor from context.
type LogWriter interface {
	// LogCreate logs a create operation for an entity.
	LogCreate(ctx context.Context, entityType, entityID string) error

	// LogUpdate logs an update operation for an entity field.
	// fieldName, oldValue, newValue describe what changed.
	LogUpdate(ctx context.Context, entityType, entityID, fieldName, oldValue, newValue string) error

	// LogEvent logs a free-form governor event (emergency trigger steps,
	// sweep results) that is not a single-field update.
	LogEvent(ctx context.Context, entityType, entityID, event string) error
}
