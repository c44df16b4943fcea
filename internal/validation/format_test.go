package validation

import (
	"strings"
	"testing"

	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/logging"
	"github.com/keyhaven/keyhaven/internal/rules"
)

func testLogger() *logging.Logger {
	return logging.New(false, true)
}

func newTestEngine() *Engine {
	return NewEngine(Config{}, testLogger())
}

func TestValidateFormatOpenAI(t *testing.T) {
	e := newTestEngine()

	valid := e.ValidateFormat("sk-"+strings.Repeat("a", 48), rules.ProviderOpenAI)
	if !valid.Valid {
		t.Fatalf("expected valid, got errors %v", valid.Errors)
	}

	invalid := e.ValidateFormat("sk-123", rules.ProviderOpenAI)
	if invalid.Valid {
		t.Fatal("sk-123 should be invalid")
	}
	mentioned := false
	for _, msg := range invalid.Errors {
		if strings.Contains(msg, "length") {
			mentioned = true
		}
	}
	if !mentioned {
		t.Errorf("errors should mention length, got %v", invalid.Errors)
	}
}

func TestValidateFormatAllProviders(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		provider rules.Provider
		good     string
		bad      string
	}{
		{rules.ProviderOpenAI, "sk-" + strings.Repeat("a", 48), "pk-" + strings.Repeat("a", 48)},
		{rules.ProviderAnthropic, "sk-ant-" + strings.Repeat("b", 40), "sk-" + strings.Repeat("b", 44)},
		{rules.ProviderGoogle, "AIza" + strings.Repeat("c", 35), "AIza" + strings.Repeat("c", 10)},
		{rules.ProviderCustom, "anything-goes-here", ""},
	}

	for _, tt := range tests {
		if got := e.ValidateFormat(tt.good, tt.provider); !got.Valid {
			t.Errorf("%s: %q should be valid, errors %v", tt.provider, keys.Mask(tt.good), got.Errors)
		}
		if got := e.ValidateFormat(tt.bad, tt.provider); got.Valid {
			t.Errorf("%s: %q should be invalid", tt.provider, keys.Mask(tt.bad))
		}
	}
}

func TestValidateFormatStripsWhitespace(t *testing.T) {
	e := newTestEngine()
	key := "sk-" + strings.Repeat("a", 48)
	padded := "  " + key[:10] + "\n" + key[10:] + " "

	if got := e.ValidateFormat(padded, rules.ProviderOpenAI); !got.Valid {
		t.Errorf("whitespace should be stripped before validation, errors %v", got.Errors)
	}
}

func TestValidateFormatProviderMismatchWarns(t *testing.T) {
	e := newTestEngine()
	anthropicKey := "sk-ant-" + strings.Repeat("b", 40)

	// The key also satisfies the looser openai shape, so it validates,
	// but the detector should flag the mismatch as a warning.
	got := e.ValidateFormat(anthropicKey, rules.ProviderOpenAI)
	if !got.Valid {
		t.Fatalf("expected valid, errors %v", got.Errors)
	}
	if len(got.Warnings) == 0 || !strings.Contains(got.Warnings[0], "anthropic") {
		t.Errorf("expected provider-mismatch warning, got %v", got.Warnings)
	}
}

func TestValidateFormatMemoized(t *testing.T) {
	e := newTestEngine()
	key := "sk-" + strings.Repeat("a", 48)

	e.ValidateFormat(key, rules.ProviderOpenAI)
	if e.formatCache.Len() != 1 {
		t.Fatalf("expected one cached result, got %d", e.formatCache.Len())
	}

	// Same sanitized key must hit the same entry.
	e.ValidateFormat("  "+key, rules.ProviderOpenAI)
	if e.formatCache.Len() != 1 {
		t.Errorf("sanitized duplicates should share one entry, got %d", e.formatCache.Len())
	}
}

func TestValidateFormatCacheNeverStoresPlaintext(t *testing.T) {
	e := newTestEngine()
	key := "sk-" + strings.Repeat("a", 48)
	e.ValidateFormat(key, rules.ProviderOpenAI)

	e.formatCache.mu.Lock()
	defer e.formatCache.mu.Unlock()
	for cacheKey := range e.formatCache.entries {
		if strings.Contains(cacheKey, key) {
			t.Error("cache key contains raw key material")
		}
	}
}

func TestClassifyKey(t *testing.T) {
	e := newTestEngine()

	proj := e.ValidateFormat("sk-proj-"+strings.Repeat("a", 40), rules.ProviderOpenAI)
	if proj.KeyType != keys.KeyTypePro {
		t.Errorf("sk-proj keys should classify pro, got %s", proj.KeyType)
	}

	std := e.ValidateFormat("sk-"+strings.Repeat("a", 40), rules.ProviderOpenAI)
	if std.KeyType != keys.KeyTypeStandard {
		t.Errorf("expected standard, got %s", std.KeyType)
	}
}
