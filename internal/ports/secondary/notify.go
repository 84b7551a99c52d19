package secondary

import (
	"context"
	"time"
)

// Notifier defines the secondary port toward the human notification channel.
// Delivery is at-least-once; duplicate deliveries are acceptable and the
// inbound resolution path is idempotent, so implementations need not dedupe.
type Notifier interface {
	// NotifyApprovalRequested delivers a pending approval to the human.
	NotifyApprovalRequested(ctx context.Context, event ApprovalRequestedEvent) error

	// NotifyAlert delivers a safety alert.
	NotifyAlert(ctx context.Context, event SafetyAlertEvent) error
}

// ApprovalRequestedEvent is the outbound payload for a new approval request.
type ApprovalRequestedEvent struct {
	RequestID           string
	ProjectID           string
	Kind                string
	Summary             string
	EstimatedCostMicros int64
	ExpiresAt           time.Time
}

// SafetyAlertEvent is the outbound payload for a safety alert.
type SafetyAlertEvent struct {
	Severity  string // 'warning', 'critical'
	Message   string
	ProjectID string
}
