// Package policy loads the risk policy file (.warden/policy.yaml): keyword
// lists for the risk checks, the high-token threshold, and the price table.
// Missing file or missing fields fall back to the compiled-in defaults.
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/example/warden/internal/core/risk"
)

// File is the serializable form of the risk policy.
type File struct {
	HighTokenThreshold int64 `yaml:"high_token_threshold,omitempty"`

	Keywords struct {
		Write       []string `yaml:"write,omitempty"`
		Admin       []string `yaml:"admin,omitempty"`
		Network     []string `yaml:"network,omitempty"`
		Credential  []string `yaml:"credential,omitempty"`
		Destructive []string `yaml:"destructive,omitempty"`
	} `yaml:"keywords,omitempty"`

	BaseTokens map[string]int64 `yaml:"base_tokens,omitempty"`

	// Prices are decimal USD per 1000 tokens, given as strings so the
	// policy file never carries binary floating point.
	PricesUSDPer1K map[string]string `yaml:"prices_usd_per_1k,omitempty"`
}

// Load reads .warden/policy.yaml from dir and overlays it on the default
// risk configuration. A missing file returns the defaults without error;
// a malformed file is an error (fail closed rather than silently assess
// with partial rules).
func Load(dir string) (risk.Config, error) {
	cfg := risk.DefaultConfig()

	path := filepath.Join(dir, ".warden", "policy.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read policy: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return cfg, fmt.Errorf("failed to parse policy: %w", err)
	}

	return Apply(cfg, f)
}

// Apply overlays a policy file on a base configuration.
func Apply(cfg risk.Config, f File) (risk.Config, error) {
	if f.HighTokenThreshold > 0 {
		cfg.HighTokenThreshold = f.HighTokenThreshold
	}
	if len(f.Keywords.Write) > 0 {
		cfg.WriteKeywords = f.Keywords.Write
	}
	if len(f.Keywords.Admin) > 0 {
		cfg.AdminKeywords = f.Keywords.Admin
	}
	if len(f.Keywords.Network) > 0 {
		cfg.NetworkKeywords = f.Keywords.Network
	}
	if len(f.Keywords.Credential) > 0 {
		cfg.CredentialKeywords = f.Keywords.Credential
	}
	if len(f.Keywords.Destructive) > 0 {
		cfg.DestructiveKeywords = f.Keywords.Destructive
	}
	for agent, base := range f.BaseTokens {
		cfg.BaseTokens[agent] = base
	}
	for agent, price := range f.PricesUSDPer1K {
		d, err := decimal.NewFromString(price)
		if err != nil {
			return cfg, fmt.Errorf("invalid price for %s: %w", agent, err)
		}
		if d.IsNegative() {
			return cfg, fmt.Errorf("invalid price for %s: negative", agent)
		}
		cfg.Prices[agent] = d
	}
	return cfg, nil
}

// Save writes a policy file to dir (used by `warden init` to scaffold one).
func Save(dir string, f File) error {
	wardenDir := filepath.Join(dir, ".warden")
	if err := os.MkdirAll(wardenDir, 0755); err != nil {
		return fmt.Errorf("failed to create .warden dir: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	path := filepath.Join(wardenDir, "policy.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	return nil
}
