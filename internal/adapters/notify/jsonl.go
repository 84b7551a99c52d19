package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/warden/internal/ports/secondary"
)

// JSONLNotifier appends notifications as one JSON object per line. The file
// is the integration point for external channels (chat bots, pagers) that
// tail it; delivery stays at-least-once.
type JSONLNotifier struct {
	path string

	mu sync.Mutex
	f  *os.File
}

type jsonlEntry struct {
	Time                string `json:"time"`
	Event               string `json:"event"`
	RequestID           string `json:"request_id,omitempty"`
	ProjectID           string `json:"project_id,omitempty"`
	Kind                string `json:"kind,omitempty"`
	Summary             string `json:"summary,omitempty"`
	EstimatedCostMicros int64  `json:"estimated_cost_micros,omitempty"`
	ExpiresAt           string `json:"expires_at,omitempty"`
	Severity            string `json:"severity,omitempty"`
	Message             string `json:"message,omitempty"`
}

// NewJSONLNotifier opens (or creates) the notification log at path.
func NewJSONLNotifier(path string) (*JSONLNotifier, error) {
	if path == "" {
		return nil, fmt.Errorf("missing notification log path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create notification log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification log: %w", err)
	}
	return &JSONLNotifier{path: path, f: f}, nil
}

// NotifyApprovalRequested appends an approval_requested line.
func (n *JSONLNotifier) NotifyApprovalRequested(ctx context.Context, event secondary.ApprovalRequestedEvent) error {
	return n.append(jsonlEntry{
		Event:               "approval_requested",
		RequestID:           event.RequestID,
		ProjectID:           event.ProjectID,
		Kind:                event.Kind,
		Summary:             event.Summary,
		EstimatedCostMicros: event.EstimatedCostMicros,
		ExpiresAt:           event.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// NotifyAlert appends a safety_alert line.
func (n *JSONLNotifier) NotifyAlert(ctx context.Context, event secondary.SafetyAlertEvent) error {
	return n.append(jsonlEntry{
		Event:     "safety_alert",
		ProjectID: event.ProjectID,
		Severity:  event.Severity,
		Message:   event.Message,
	})
}

// Close closes the underlying file.
func (n *JSONLNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.f == nil {
		return nil
	}
	err := n.f.Close()
	n.f = nil
	return err
}

func (n *JSONLNotifier) append(entry jsonlEntry) error {
	entry.Time = time.Now().UTC().Format(time.RFC3339)
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.f == nil {
		return fmt.Errorf("notification log is closed")
	}
	if _, err := n.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// Ensure JSONLNotifier implements the interface
var _ secondary.Notifier = (*JSONLNotifier)(nil)
