package policy

import (
	"sort"

	"github.com/dativo-io/steward/internal/agentapi"
)

// JurisdictionRule constrains where content from one jurisdiction may be processed.
type JurisdictionRule struct {
	// AllowedProviders lists model providers permitted to receive the content.
	// Empty means any provider.
	AllowedProviders []string `yaml:"allowed_providers,omitempty" json:"allowed_providers,omitempty"`
	// LocalOnlyFrom forces locally hosted models for content at or above this
	// sensitivity. Empty disables the check.
	LocalOnlyFrom agentapi.Sensitivity `yaml:"local_only_from,omitempty" json:"local_only_from,omitempty"`
}

// Jurisdictions maps an upper-case country code to its rule.
type Jurisdictions map[string]JurisdictionRule

// DefaultJurisdictions keeps Indigenous data sovereignty jurisdictions on
// sovereign-hosted or local models and sacred material on local models only.
func DefaultJurisdictions() Jurisdictions {
	return Jurisdictions{
		"AU": {AllowedProviders: []string{"bedrock", "ollama"}, LocalOnlyFrom: agentapi.SensitivitySacred},
		"NZ": {AllowedProviders: []string{"bedrock", "ollama"}, LocalOnlyFrom: agentapi.SensitivitySacred},
		"CA": {LocalOnlyFrom: agentapi.SensitivitySacred},
		"US": {},
	}
}

// Codes returns the configured jurisdiction codes in sorted order.
func (j Jurisdictions) Codes() []string {
	out := make([]string, 0, len(j))
	for k := range j {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// toData converts the rules into the OPA data document.
func (j Jurisdictions) toData() map[string]interface{} {
	rules := make(map[string]interface{}, len(j))
	for code, r := range j {
		providers := make([]interface{}, 0, len(r.AllowedProviders))
		for _, p := range r.AllowedProviders {
			providers = append(providers, p)
		}
		rank := -1
		if r.LocalOnlyFrom != "" {
			rank = r.LocalOnlyFrom.Rank()
		}
		rules[code] = map[string]interface{}{
			"allowed_providers":    providers,
			"local_only_from_rank": rank,
		}
	}
	return map[string]interface{}{"jurisdictions": rules}
}
