// Package notify contains Notifier implementations for the human channel.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/example/warden/internal/ports/secondary"
)

// ConsoleNotifier writes notifications to a terminal. Resolution instructions
// are part of the message so the operator can act without checking docs.
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a notifier writing to stderr.
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: os.Stderr}
}

// NewConsoleNotifierTo creates a notifier writing to the given writer.
func NewConsoleNotifierTo(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

// NotifyApprovalRequested prints a pending approval request.
func (n *ConsoleNotifier) NotifyApprovalRequested(ctx context.Context, event secondary.ApprovalRequestedEvent) error {
	header := color.New(color.FgYellow, color.Bold).Sprint("APPROVAL NEEDED")
	fmt.Fprintf(n.out, "\n%s  %s [%s] %s\n", header, event.RequestID, event.Kind, event.ProjectID)
	if event.Summary != "" {
		fmt.Fprintf(n.out, "  %s\n", event.Summary)
	}
	if event.EstimatedCostMicros > 0 {
		fmt.Fprintf(n.out, "  estimated cost: $%.4f\n", float64(event.EstimatedCostMicros)/1e6)
	}
	fmt.Fprintf(n.out, "  expires: %s\n", event.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(n.out, "  resolve with: warden approval approve %s | warden approval reject %s\n",
		event.RequestID, event.RequestID)
	return nil
}

// NotifyAlert prints a safety alert.
func (n *ConsoleNotifier) NotifyAlert(ctx context.Context, event secondary.SafetyAlertEvent) error {
	label := color.New(color.FgYellow, color.Bold).Sprint("WARNING")
	if event.Severity == secondary.SeverityCritical {
		label = color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	}
	fmt.Fprintf(n.out, "\n%s  [%s] %s\n", label, event.ProjectID, event.Message)
	return nil
}

// Ensure ConsoleNotifier implements the interface
var _ secondary.Notifier = (*ConsoleNotifier)(nil)
