// Package rules holds the static per-provider format rules for API keys.
// The table is immutable; lookups never fail, unknown providers fall back
// to the permissive custom rule.
package rules

import "regexp"

// Provider identifies an AI provider whose keys the vault manages.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderCustom    Provider = "custom"
)

// Known lists all provider tags with a dedicated rule, in detection order.
// Anthropic precedes OpenAI because "sk-ant-" keys also match the broader
// "sk-" shape; custom is last so detection prefers a specific provider.
var Known = []Provider{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderCustom}

// Rule describes the format constraints for one provider's keys plus the
// fixed endpoint used for live connectivity probes.
type Rule struct {
	Pattern        *regexp.Regexp
	MinLength      int
	MaxLength      int
	RequiredPrefix string
	Description    string

	// ProbeURL is the canonical endpoint for live validation. Empty for
	// custom providers, which have no canonical endpoint to probe.
	ProbeURL string

	// AuthHeader names the request header carrying the key. "Authorization"
	// rules send "Bearer <key>", any other header carries the bare key.
	AuthHeader string

	// ExtraHeaders are fixed headers required by the provider's API.
	ExtraHeaders map[string]string
}

var table = map[Provider]Rule{
	ProviderOpenAI: {
		Pattern:        regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`),
		MinLength:      40,
		MaxLength:      200,
		RequiredPrefix: "sk-",
		Description:    "OpenAI API key (sk-...)",
		ProbeURL:       "https://api.openai.com/v1/models",
		AuthHeader:     "Authorization",
	},
	ProviderAnthropic: {
		Pattern:        regexp.MustCompile(`^sk-ant-[A-Za-z0-9_-]{24,}$`),
		MinLength:      40,
		MaxLength:      200,
		RequiredPrefix: "sk-ant-",
		Description:    "Anthropic API key (sk-ant-...)",
		ProbeURL:       "https://api.anthropic.com/v1/models",
		AuthHeader:     "x-api-key",
		ExtraHeaders:   map[string]string{"anthropic-version": "2023-06-01"},
	},
	ProviderGoogle: {
		Pattern:        regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`),
		MinLength:      39,
		MaxLength:      39,
		RequiredPrefix: "AIza",
		Description:    "Google AI API key (AIza...)",
		ProbeURL:       "https://generativelanguage.googleapis.com/v1beta/models",
		AuthHeader:     "x-goog-api-key",
	},
	ProviderCustom: {
		Pattern:     regexp.MustCompile(`^.{1,1000}$`),
		MinLength:   1,
		MaxLength:   1000,
		Description: "Custom provider key (permissive)",
	},
}

// Lookup returns the rule for a provider. Unknown providers get the
// custom rule.
func Lookup(p Provider) Rule {
	if rule, ok := table[p]; ok {
		return rule
	}
	return table[ProviderCustom]
}

// IsKnown reports whether p is one of the recognized provider tags.
func IsKnown(p Provider) bool {
	_, ok := table[p]
	return ok
}

// Detect scans all specific provider rules and returns the provider whose
// shape the key matches. Returns ProviderCustom when no specific rule
// matches.
func Detect(key string) Provider {
	for _, p := range Known {
		if p == ProviderCustom {
			continue
		}
		rule := table[p]
		if len(key) >= rule.MinLength && len(key) <= rule.MaxLength && rule.Pattern.MatchString(key) {
			return p
		}
	}
	return ProviderCustom
}
