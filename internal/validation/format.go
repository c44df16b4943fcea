package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/rules"
)

// Result is the outcome of a format validation. Failures populate
// Errors; suspicious but acceptable findings populate Warnings.
type Result struct {
	Valid         bool           `json:"valid"`
	Errors        []string       `json:"errors,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Provider      rules.Provider `json:"provider"`
	KeyType       keys.KeyType   `json:"keyType,omitempty"`
	EstimatedTier string         `json:"estimatedTier,omitempty"`
}

// Sanitize strips every whitespace rune, including unicode whitespace,
// from a raw key. Callers that hash or encrypt key material must apply
// the same normalization the format validator does.
func Sanitize(raw string) string {
	return sanitizeKey(raw)
}

// sanitizeKey strips every whitespace rune, including unicode
// whitespace, from a raw key.
func sanitizeKey(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}

// ValidateFormat checks a key against its provider's rule: length
// bounds, required prefix, and pattern. It also re-detects the provider
// from the key's shape and warns when the declared provider disagrees.
// Results are memoized by (provider, hash of sanitized key).
func (e *Engine) ValidateFormat(rawKey string, provider rules.Provider) Result {
	key := sanitizeKey(rawKey)

	cacheKey := formatCacheKey(provider, key)
	if cached, ok := e.formatCache.Get(cacheKey); ok {
		e.metrics.recordValidation(string(provider), "format", "cached")
		return cached
	}

	result := e.validateFormatUncached(key, provider)
	e.formatCache.Put(cacheKey, result)

	outcome := "invalid"
	if result.Valid {
		outcome = "valid"
	}
	e.metrics.recordValidation(string(provider), "format", outcome)
	return result
}

func (e *Engine) validateFormatUncached(key string, provider rules.Provider) Result {
	result := Result{Provider: provider}
	rule := rules.Lookup(provider)

	if key == "" {
		result.Errors = append(result.Errors, "key is empty")
		return result
	}

	if len(key) < rule.MinLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("key length %d is below the minimum of %d for %s", len(key), rule.MinLength, provider))
	}
	if len(key) > rule.MaxLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("key length %d exceeds the maximum of %d for %s", len(key), rule.MaxLength, provider))
	}
	if rule.RequiredPrefix != "" && !strings.HasPrefix(key, rule.RequiredPrefix) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("key must start with %q", rule.RequiredPrefix))
	}
	if len(result.Errors) == 0 && !rule.Pattern.MatchString(key) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("key does not match the %s format (%s)", provider, rule.Description))
	}

	if detected := rules.Detect(key); detected != provider && detected != rules.ProviderCustom {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("key shape looks like a %s key, not %s", detected, provider))
	}

	result.Valid = len(result.Errors) == 0
	if result.Valid {
		result.KeyType, result.EstimatedTier = classifyKey(key, provider)
	}
	return result
}

// classifyKey guesses the key class and subscription tier from shape
// hints. This is best-effort; providers do not publish these rules.
func classifyKey(key string, provider rules.Provider) (keys.KeyType, string) {
	switch provider {
	case rules.ProviderOpenAI:
		switch {
		case strings.HasPrefix(key, "sk-proj-"):
			return keys.KeyTypePro, "pro"
		case strings.HasPrefix(key, "sk-svcacct-"):
			return keys.KeyTypeEnterprise, "enterprise"
		}
	case rules.ProviderAnthropic:
		if strings.HasPrefix(key, "sk-ant-admin") {
			return keys.KeyTypeEnterprise, "enterprise"
		}
	}
	if len(key) > 80 {
		return keys.KeyTypePro, "pro"
	}
	return keys.KeyTypeStandard, "free"
}

// formatCacheKey hashes the sanitized key so the cache never retains
// plaintext material.
func formatCacheKey(provider rules.Provider, key string) string {
	return string(provider) + ":" + keys.HashKey(key)
}
