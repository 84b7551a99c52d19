package risk

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAssessFlags(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name      string
		agentType string
		action    string
		input     string
		wantFlags []string
		mandatory bool
	}{
		{
			name:      "benign read action",
			agentType: "analyst",
			action:    "summarize the requirements document",
			wantFlags: nil,
			mandatory: false,
		},
		{
			name:      "write operation",
			agentType: "coder",
			action:    "modify the payment handler and push the branch",
			wantFlags: []string{FlagWriteOperation},
			mandatory: true,
		},
		{
			name:      "admin endpoint",
			agentType: "deployer",
			action:    "call the admin endpoint to rotate settings",
			wantFlags: []string{FlagAdminEndpoint},
			mandatory: true,
		},
		{
			name:      "external network call",
			agentType: "analyst",
			action:    "download the dataset from https://example.com/data.csv",
			wantFlags: []string{FlagExternalNetwork},
			mandatory: true,
		},
		{
			name:      "credential access is a security flag",
			agentType: "coder",
			action:    "read the api key from the token store",
			wantFlags: []string{FlagCredentialAccess},
			mandatory: true,
		},
		{
			name:      "destructive command",
			agentType: "deployer",
			action:    "run rm -rf on the build directory",
			wantFlags: []string{FlagDestructiveCmd},
			mandatory: true,
		},
		{
			name:      "multiple independent checks union",
			agentType: "coder",
			action:    "modify the schema then drop table users",
			wantFlags: []string{FlagDestructiveCmd, FlagWriteOperation},
			mandatory: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assess(cfg, tt.agentType, tt.action, tt.input)
			if len(got.Flags) != len(tt.wantFlags) {
				t.Fatalf("Flags = %v, want %v", got.Flags, tt.wantFlags)
			}
			for i, f := range tt.wantFlags {
				if got.Flags[i] != f {
					t.Errorf("Flags[%d] = %q, want %q", i, got.Flags[i], f)
				}
			}
			if got.MandatoryApproval != tt.mandatory {
				t.Errorf("MandatoryApproval = %v, want %v", got.MandatoryApproval, tt.mandatory)
			}
		})
	}
}

func TestAssessHighTokenEstimate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighTokenThreshold = 3000

	// Coder base is 4000, above the lowered threshold.
	got := Assess(cfg, "coder", "summarize the diff", "")
	if !containsFlag(got.Flags, FlagHighTokenEstimate) {
		t.Errorf("Flags = %v, want %s present", got.Flags, FlagHighTokenEstimate)
	}
	if !got.MandatoryApproval {
		t.Error("high token estimate should require sign-off")
	}
}

func TestAssessDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a := Assess(cfg, "coder", "modify handler", "diff summary")
	b := Assess(cfg, "coder", "modify handler", "diff summary")

	if a.EstimatedTokens != b.EstimatedTokens || a.EstimatedCostMicros != b.EstimatedCostMicros {
		t.Errorf("assessment not deterministic: %+v vs %+v", a, b)
	}
}

func TestHasSecurityFlag(t *testing.T) {
	a := Assessment{Flags: []string{FlagWriteOperation}}
	if a.HasSecurityFlag() {
		t.Error("write-operation alone is not a security flag")
	}

	b := Assessment{Flags: []string{FlagWriteOperation, FlagCredentialAccess}}
	if !b.HasSecurityFlag() {
		t.Error("credential-access should be a security flag")
	}
}

func TestEstimateCostMicros(t *testing.T) {
	cfg := Config{
		Prices: map[string]decimal.Decimal{
			"analyst": decimal.RequireFromString("0.003"),
			"coder":   decimal.RequireFromString("0.015"),
		},
	}

	tests := []struct {
		name      string
		agentType string
		tokens    int64
		want      int64
	}{
		{"analyst 1000 tokens", "analyst", 1000, 3000},
		{"coder 1000 tokens", "coder", 1000, 15000},
		{"coder 2500 tokens", "coder", 2500, 37500},
		{"rounds up", "analyst", 1, 3}, // 0.003/1000 USD = 3 micros exactly
		{"unknown agent uses highest rate", "mystery", 1000, 15000},
		{"case insensitive agent type", "CODER", 1000, 15000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateCostMicros(cfg, tt.agentType, tt.tokens)
			if got != tt.want {
				t.Errorf("EstimateCostMicros(%q, %d) = %d, want %d", tt.agentType, tt.tokens, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	a := Assessment{Flags: []string{FlagWriteOperation}, EstimatedTokens: 1200}
	if !strings.Contains(Describe(a), FlagWriteOperation) {
		t.Errorf("Describe(%v) = %q, want flag named", a.Flags, Describe(a))
	}
}

func containsFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
