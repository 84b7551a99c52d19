// Package approval contains the pure business logic for approval lifecycle.
// Guards are pure functions that evaluate preconditions without side effects.
package approval

import "fmt"

// Status values mirror the ledger storage values.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// IsTerminal reports whether a status is out of PENDING. Terminal statuses
// are never left again: transitions are monotonic and one-directional.
func IsTerminal(status string) bool {
	switch status {
	case StatusApproved, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanResolve evaluates whether a request in the given status accepts a
// resolution event.
// Rules:
// - Only PENDING requests may be resolved
func CanResolve(status string) GuardResult {
	if status != StatusPending {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("request already resolved (status: %s)", status),
		}
	}
	return GuardResult{Allowed: true}
}

// ValidTransition evaluates whether a status transition is legal.
// Rules:
// - PENDING may move to any terminal status
// - terminal statuses never change
func ValidTransition(from, to string) GuardResult {
	if from != StatusPending {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("cannot leave terminal status %s", from),
		}
	}
	if !IsTerminal(to) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("invalid target status %s", to),
		}
	}
	return GuardResult{Allowed: true}
}

// StatusForVerdict maps a human verdict to the resulting status.
func StatusForVerdict(approve bool) string {
	if approve {
		return StatusApproved
	}
	return StatusRejected
}
