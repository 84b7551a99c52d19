package app

import (
	"testing"
	"time"

	"github.com/example/warden/internal/ports/primary"
)

func TestWaiterRegistry(t *testing.T) {
	t.Run("delivers resolution to all waiters", func(t *testing.T) {
		reg := NewWaiterRegistry()

		ch1, cancel1 := reg.Register("APR-001")
		ch2, cancel2 := reg.Register("APR-001")
		defer cancel1()
		defer cancel2()

		reg.Notify("APR-001", primary.Resolution{
			RequestID: "APR-001",
			Outcome:   primary.OutcomeApproved,
		})

		for _, ch := range []<-chan primary.Resolution{ch1, ch2} {
			select {
			case res := <-ch:
				if res.Outcome != primary.OutcomeApproved {
					t.Errorf("Outcome = %q, want APPROVED", res.Outcome)
				}
			case <-time.After(time.Second):
				t.Fatal("waiter not notified")
			}
		}
	})

	t.Run("notify clears the slot", func(t *testing.T) {
		reg := NewWaiterRegistry()
		_, cancel := reg.Register("APR-001")
		defer cancel()

		reg.Notify("APR-001", primary.Resolution{RequestID: "APR-001"})
		if n := reg.Waiting("APR-001"); n != 0 {
			t.Errorf("Waiting = %d, want 0", n)
		}
	})

	t.Run("cancel removes only its waiter", func(t *testing.T) {
		reg := NewWaiterRegistry()
		_, cancel1 := reg.Register("APR-001")
		ch2, cancel2 := reg.Register("APR-001")
		defer cancel2()

		cancel1()
		if n := reg.Waiting("APR-001"); n != 1 {
			t.Fatalf("Waiting = %d, want 1", n)
		}

		reg.Notify("APR-001", primary.Resolution{RequestID: "APR-001", Outcome: primary.OutcomeRejected})
		select {
		case res := <-ch2:
			if res.Outcome != primary.OutcomeRejected {
				t.Errorf("Outcome = %q, want REJECTED", res.Outcome)
			}
		case <-time.After(time.Second):
			t.Fatal("remaining waiter not notified")
		}
	})

	t.Run("notify without waiters is a no-op", func(t *testing.T) {
		reg := NewWaiterRegistry()
		reg.Notify("APR-999", primary.Resolution{RequestID: "APR-999"})
	})
}
