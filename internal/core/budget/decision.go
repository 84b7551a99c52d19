// Package budget contains the pure decision logic for budget enforcement.
// All arithmetic is integer (tokens and micro-USD); no floating point.
package budget

import "time"

// Decision classifies a reservation attempt against a counter snapshot.
type Decision int

// Decision values
const (
	// OK: the reservation fits under the effective limit.
	OK Decision = iota
	// RequiresOverride: potential usage exceeds the limit; an explicit
	// override grant is needed before the counter may move above it.
	RequiresOverride
	// Emergency: potential usage exceeds the emergency multiple of the
	// limit; this bypasses ordinary override and trips the stop controller.
	Emergency
)

func (d Decision) String() string {
	switch d {
	case OK:
		return "OK"
	case RequiresOverride:
		return "REQUIRES_OVERRIDE"
	case Emergency:
		return "EMERGENCY"
	}
	return "UNKNOWN"
}

// Emergency threshold: potential > 3/2 × limit. Kept as a ratio so the
// comparison stays in integer arithmetic.
const (
	emergencyNum = 3
	emergencyDen = 2
)

// Snapshot is the counter state a decision is computed from. Reserved
// amounts count against the limit: a pending approval holds its headroom.
type Snapshot struct {
	TokenLimit      int64
	CostLimitMicros int64
	TokensUsed      int64
	CostUsedMicros  int64
	TokensReserved  int64
	CostReserved    int64
	OverrideTokens  int64
	OverrideCost    int64
}

// Classify decides the outcome of reserving (reqTokens, reqCostMicros)
// against the snapshot. Checks tokens and cost independently; the worse
// outcome wins.
func Classify(s Snapshot, reqTokens, reqCostMicros int64) Decision {
	d := classifyAxis(s.TokensUsed+s.TokensReserved+reqTokens, s.TokenLimit, s.OverrideTokens)
	if c := classifyAxis(s.CostUsedMicros+s.CostReserved+reqCostMicros, s.CostLimitMicros, s.OverrideCost); c > d {
		d = c
	}
	return d
}

func classifyAxis(potential, limit, override int64) Decision {
	if limit <= 0 {
		// Unlimited axis.
		return OK
	}
	if potential*emergencyDen > limit*emergencyNum {
		return Emergency
	}
	if potential > limit+override {
		return RequiresOverride
	}
	return OK
}

// OverrideShortfall computes the headroom an override request must grant for
// the reservation to fit.
func OverrideShortfall(s Snapshot, reqTokens, reqCostMicros int64) (tokens, costMicros int64) {
	if s.TokenLimit > 0 {
		if over := s.TokensUsed + s.TokensReserved + reqTokens - s.TokenLimit - s.OverrideTokens; over > 0 {
			tokens = over
		}
	}
	if s.CostLimitMicros > 0 {
		if over := s.CostUsedMicros + s.CostReserved + reqCostMicros - s.CostLimitMicros - s.OverrideCost; over > 0 {
			costMicros = over
		}
	}
	return tokens, costMicros
}

// Reset mode constants, mirrored from config to keep this package leaf-level.
const (
	ResetModeCalendar = "calendar"
	ResetModeRolling  = "rolling"
)

// ResetDue reports whether a counter's daily boundary has passed.
// Calendar mode resets at the UTC day boundary; rolling mode resets 24h
// after the last reset.
func ResetDue(lastReset, now time.Time, mode string) bool {
	if mode == ResetModeRolling {
		return now.Sub(lastReset) >= 24*time.Hour
	}
	ly, lm, ld := lastReset.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly != ny || lm != nm || ld != nd
}
