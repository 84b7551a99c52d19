package notify

import (
	"context"
	"errors"

	"github.com/example/warden/internal/events"
	"github.com/example/warden/internal/ports/secondary"
)

// Fanout delivers each notification to every configured channel. A failing
// channel does not block the others; errors are joined.
type Fanout struct {
	channels []secondary.Notifier
}

// NewFanout creates a fanout over the given channels.
func NewFanout(channels ...secondary.Notifier) *Fanout {
	return &Fanout{channels: channels}
}

func (f *Fanout) NotifyApprovalRequested(ctx context.Context, event secondary.ApprovalRequestedEvent) error {
	var errs []error
	for _, ch := range f.channels {
		if err := ch.NotifyApprovalRequested(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) NotifyAlert(ctx context.Context, event secondary.SafetyAlertEvent) error {
	var errs []error
	for _, ch := range f.channels {
		if err := ch.NotifyAlert(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BusNotifier republishes notifications on the in-process event bus so
// long-running subscribers (the daemon, simulations) observe them.
type BusNotifier struct {
	bus *events.Bus
}

// NewBusNotifier creates a notifier publishing to the given bus.
func NewBusNotifier(bus *events.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) NotifyApprovalRequested(ctx context.Context, event secondary.ApprovalRequestedEvent) error {
	n.bus.Publish(events.Event{
		Type:      events.EventApprovalRequested,
		ProjectID: event.ProjectID,
		EntityID:  event.RequestID,
		Message:   event.Summary,
	})
	return nil
}

func (n *BusNotifier) NotifyAlert(ctx context.Context, event secondary.SafetyAlertEvent) error {
	n.bus.Publish(events.Event{
		Type:      events.EventSafetyAlert,
		ProjectID: event.ProjectID,
		Message:   event.Message,
	})
	return nil
}

var (
	_ secondary.Notifier = (*Fanout)(nil)
	_ secondary.Notifier = (*BusNotifier)(nil)
)
