package budget

import (
	"testing"
	"time"
)

func TestClassifyTokens(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		req  int64
		want Decision
	}{
		{
			name: "fits under limit",
			snap: Snapshot{TokenLimit: 1000},
			req:  600,
			want: OK,
		},
		{
			name: "exactly at limit is OK",
			snap: Snapshot{TokenLimit: 1000, TokensUsed: 400},
			req:  600,
			want: OK,
		},
		{
			name: "reserved counts against limit",
			snap: Snapshot{TokenLimit: 1000, TokensReserved: 600},
			req:  500,
			want: RequiresOverride,
		},
		{
			name: "over limit requires override",
			snap: Snapshot{TokenLimit: 1000, TokensUsed: 600},
			req:  500,
			want: RequiresOverride,
		},
		{
			name: "override headroom admits the request",
			snap: Snapshot{TokenLimit: 1000, TokensUsed: 600, OverrideTokens: 100},
			req:  500,
			want: OK,
		},
		{
			name: "over 1.5x limit is emergency",
			snap: Snapshot{TokenLimit: 1000, TokensUsed: 900},
			req:  700,
			want: Emergency,
		},
		{
			name: "exactly 1.5x limit is override not emergency",
			snap: Snapshot{TokenLimit: 1000},
			req:  1500,
			want: RequiresOverride,
		},
		{
			name: "emergency bypasses override headroom",
			snap: Snapshot{TokenLimit: 1000, TokensUsed: 1000, OverrideTokens: 5000},
			req:  600,
			want: Emergency,
		},
		{
			name: "zero limit means unlimited",
			snap: Snapshot{},
			req:  1 << 40,
			want: OK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.snap, tt.req, 0); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyWorseAxisWins(t *testing.T) {
	snap := Snapshot{TokenLimit: 1_000_000, CostLimitMicros: 1_000_000}

	// Tokens fine, cost at emergency level.
	if got := Classify(snap, 10, 2_000_000); got != Emergency {
		t.Errorf("Classify = %s, want EMERGENCY on cost axis", got)
	}

	// Tokens need override, cost fine.
	if got := Classify(snap, 1_200_000, 10); got != RequiresOverride {
		t.Errorf("Classify = %s, want REQUIRES_OVERRIDE on token axis", got)
	}
}

func TestOverrideShortfall(t *testing.T) {
	snap := Snapshot{TokenLimit: 1000, TokensUsed: 600, CostLimitMicros: 5000, CostUsedMicros: 1000}

	tokens, cost := OverrideShortfall(snap, 500, 1000)
	if tokens != 100 {
		t.Errorf("token shortfall = %d, want 100", tokens)
	}
	if cost != 0 {
		t.Errorf("cost shortfall = %d, want 0", cost)
	}
}

func TestResetDue(t *testing.T) {
	base := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastReset time.Time
		now       time.Time
		mode      string
		want      bool
	}{
		{
			name:      "calendar same day",
			lastReset: base,
			now:       base.Add(20 * time.Minute),
			mode:      ResetModeCalendar,
			want:      false,
		},
		{
			name:      "calendar crosses midnight",
			lastReset: base,
			now:       base.Add(45 * time.Minute),
			mode:      ResetModeCalendar,
			want:      true,
		},
		{
			name:      "rolling under 24h even across midnight",
			lastReset: base,
			now:       base.Add(45 * time.Minute),
			mode:      ResetModeRolling,
			want:      false,
		},
		{
			name:      "rolling at 24h",
			lastReset: base,
			now:       base.Add(24 * time.Hour),
			mode:      ResetModeRolling,
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResetDue(tt.lastReset, tt.now, tt.mode); got != tt.want {
				t.Errorf("ResetDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecisionString(t *testing.T) {
	if OK.String() != "OK" || RequiresOverride.String() != "REQUIRES_OVERRIDE" || Emergency.String() != "EMERGENCY" {
		t.Error("Decision.String() mismatch")
	}
}
