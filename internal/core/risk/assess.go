// Package risk contains the pure risk assessment logic for proposed agent
// actions. Assessment is deterministic given its inputs: no side effects, no
// network calls, no clock reads.
package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Risk flag constants. Flags are produced by independent checks; their union
// decides whether human sign-off is mandatory.
const (
	FlagWriteOperation    = "write-operation"
	FlagAdminEndpoint     = "admin-endpoint"
	FlagExternalNetwork   = "external-network-call"
	FlagHighTokenEstimate = "high-token-estimate"
	FlagCredentialAccess  = "credential-access"
	FlagDestructiveCmd    = "destructive-command"
)

// securityFlags is the set of flags in the "security" category. An unresolved
// security flag is an emergency stop condition.
var securityFlags = map[string]bool{
	FlagCredentialAccess: true,
	FlagDestructiveCmd:   true,
}

// Assessment is the result of scoring one proposed action.
type Assessment struct {
	Flags               []string
	EstimatedTokens     int64
	EstimatedCostMicros int64
	MandatoryApproval   bool
}

// HasSecurityFlag reports whether any security-category flag is present.
func (a Assessment) HasSecurityFlag() bool {
	return HasSecurityFlags(a.Flags)
}

// HasSecurityFlags reports whether any flag in the list is security-category.
func HasSecurityFlags(flags []string) bool {
	for _, f := range flags {
		if securityFlags[f] {
			return true
		}
	}
	return false
}

// Config holds the tunable inputs to assessment: keyword lists per check,
// the high-token threshold, and the per-agent price table.
type Config struct {
	HighTokenThreshold int64

	WriteKeywords       []string
	AdminKeywords       []string
	NetworkKeywords     []string
	CredentialKeywords  []string
	DestructiveKeywords []string

	// BaseTokens is the per-agent-type base token estimate.
	BaseTokens map[string]int64

	// Prices is USD per 1000 tokens by agent type. Unknown agent types are
	// charged the highest rate in the table.
	Prices map[string]decimal.Decimal
}

// DefaultConfig returns the compiled-in assessment configuration.
// A policy file may replace any part of it (see internal/policy).
func DefaultConfig() Config {
	return Config{
		HighTokenThreshold: 8000,
		WriteKeywords: []string{
			"write", "create file", "modify", "delete", "deploy", "push", "merge", "migrate",
		},
		AdminKeywords: []string{
			"admin", "sudo", "chmod", "chown", "grant", "privilege",
		},
		NetworkKeywords: []string{
			"http://", "https://", "curl", "download", "upload", "webhook", "external api",
		},
		CredentialKeywords: []string{
			"secret", "credential", "password", "api key", "token store", "private key",
		},
		DestructiveKeywords: []string{
			"rm -rf", "drop table", "force push", "truncate", "wipe", "format disk",
		},
		BaseTokens: map[string]int64{
			"analyst":   2000,
			"architect": 3000,
			"coder":     4000,
			"tester":    2500,
			"deployer":  1500,
		},
		Prices: map[string]decimal.Decimal{
			"analyst":   decimal.RequireFromString("0.003"),
			"architect": decimal.RequireFromString("0.015"),
			"coder":     decimal.RequireFromString("0.015"),
			"tester":    decimal.RequireFromString("0.003"),
			"deployer":  decimal.RequireFromString("0.003"),
		},
	}
}

// Assess scores a proposed action. Each check is independent; the flag union
// determines whether sign-off is mandatory (any flag means mandatory).
func Assess(cfg Config, agentType, action, inputSummary string) Assessment {
	text := strings.ToLower(action + " " + inputSummary)

	var flags []string
	if matchAny(text, cfg.WriteKeywords) {
		flags = append(flags, FlagWriteOperation)
	}
	if matchAny(text, cfg.AdminKeywords) {
		flags = append(flags, FlagAdminEndpoint)
	}
	if matchAny(text, cfg.NetworkKeywords) {
		flags = append(flags, FlagExternalNetwork)
	}
	if matchAny(text, cfg.CredentialKeywords) {
		flags = append(flags, FlagCredentialAccess)
	}
	if matchAny(text, cfg.DestructiveKeywords) {
		flags = append(flags, FlagDestructiveCmd)
	}

	tokens := estimateTokens(cfg, agentType, action, inputSummary)
	if cfg.HighTokenThreshold > 0 && tokens > cfg.HighTokenThreshold {
		flags = append(flags, FlagHighTokenEstimate)
	}
	sort.Strings(flags)

	return Assessment{
		Flags:               flags,
		EstimatedTokens:     tokens,
		EstimatedCostMicros: EstimateCostMicros(cfg, agentType, tokens),
		MandatoryApproval:   len(flags) > 0,
	}
}

// estimateTokens derives a deterministic token estimate: a per-agent base
// plus roughly one token per four characters of action and input.
func estimateTokens(cfg Config, agentType, action, inputSummary string) int64 {
	base, ok := cfg.BaseTokens[strings.ToLower(agentType)]
	if !ok {
		// Unknown agent types get the largest base in the table so the
		// estimate errs high rather than under-budgeting.
		for _, b := range cfg.BaseTokens {
			if b > base {
				base = b
			}
		}
	}
	return base + int64((len(action)+len(inputSummary))/4)
}

// Describe renders a one-line flag summary for notification payloads.
func Describe(a Assessment) string {
	if len(a.Flags) == 0 {
		return fmt.Sprintf("no risk flags, est %d tokens", a.EstimatedTokens)
	}
	return fmt.Sprintf("flags [%s], est %d tokens", strings.Join(a.Flags, ", "), a.EstimatedTokens)
}

func matchAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
