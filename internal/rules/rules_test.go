package rules

import (
	"strings"
	"testing"
)

func TestLookupKnownProviders(t *testing.T) {
	for _, p := range Known {
		rule := Lookup(p)
		if rule.Pattern == nil {
			t.Errorf("provider %s has no pattern", p)
		}
		if rule.MinLength <= 0 || rule.MaxLength < rule.MinLength {
			t.Errorf("provider %s has bad length bounds: %d..%d", p, rule.MinLength, rule.MaxLength)
		}
	}
}

func TestLookupUnknownFallsBackToCustom(t *testing.T) {
	rule := Lookup(Provider("mistral"))
	if rule.Description != Lookup(ProviderCustom).Description {
		t.Error("unknown provider should get the custom rule")
	}
}

func TestCustomHasNoProbeEndpoint(t *testing.T) {
	if Lookup(ProviderCustom).ProbeURL != "" {
		t.Error("custom providers must not have a probe endpoint")
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		key  string
		want Provider
	}{
		{"sk-" + strings.Repeat("a", 48), ProviderOpenAI},
		{"sk-ant-" + strings.Repeat("b", 40), ProviderAnthropic},
		{"AIza" + strings.Repeat("c", 35), ProviderGoogle},
		{"whatever-goes", ProviderCustom},
		{"sk-short", ProviderCustom},
	}

	for _, tt := range tests {
		if got := Detect(tt.key); got != tt.want {
			t.Errorf("Detect(%q) = %s, want %s", tt.key, got, tt.want)
		}
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown(ProviderOpenAI) || !IsKnown(ProviderCustom) {
		t.Error("expected table providers to be known")
	}
	if IsKnown(Provider("cohere")) {
		t.Error("cohere should not be a known tag")
	}
}
