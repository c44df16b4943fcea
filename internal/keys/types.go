// Package keys defines the credential record model: unencrypted metadata,
// the persisted encrypted unit, usage counters, and rotation state.
package keys

import (
	"time"

	"github.com/keyhaven/keyhaven/internal/rules"
)

// KeyType classifies the subscription class a key belongs to.
type KeyType string

const (
	KeyTypeStandard   KeyType = "standard"
	KeyTypePro        KeyType = "pro"
	KeyTypeEnterprise KeyType = "enterprise"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
	StatusRotating Status = "rotating"
)

// Metadata is the unencrypted, indexable part of a credential. MaskedKey
// is an irreversible truncation of the raw key; nothing in here allows
// plaintext reconstruction.
type Metadata struct {
	ID          string         `json:"id"`
	Provider    rules.Provider `json:"provider"`
	KeyType     KeyType        `json:"keyType"`
	Status      Status         `json:"status"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastUsed    time.Time      `json:"lastUsed"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	MaskedKey   string         `json:"maskedKey"`
	Permissions []string       `json:"permissions,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Owner       string         `json:"owner,omitempty"`
}

// EffectiveStatus resolves the status as of now: a credential past its
// ExpiresAt reports expired regardless of the stored status, unless it
// was revoked.
func (m *Metadata) EffectiveStatus(now time.Time) Status {
	if m.Status == StatusRevoked {
		return StatusRevoked
	}
	if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
		return StatusExpired
	}
	return m.Status
}

// EncryptedPayload is the cipher output persisted in the blob store.
type EncryptedPayload struct {
	Cipher    []byte `json:"cipher"`
	IV        []byte `json:"iv"`
	Algorithm string `json:"algorithm"`
	Version   int    `json:"version"`
}

// Encrypted is the persisted credential unit. KeyHash is a deterministic
// digest of the raw key used only for duplicate detection; Checksum is an
// integrity digest over the encrypted payload.
type Encrypted struct {
	ID       string           `json:"id"`
	Metadata Metadata         `json:"metadata"`
	Payload  EncryptedPayload `json:"encryptedPayload"`
	KeyHash  string           `json:"keyHash"`
	Checksum string           `json:"checksum"`
	Config   Config           `json:"configuration"`
	Usage    *UsageStats      `json:"usageStats,omitempty"`
	Rotation *RotationStatus  `json:"rotationStatus,omitempty"`
}

// Config carries per-credential operational settings.
type Config struct {
	RateLimit *RateLimitConfig `json:"rateLimit,omitempty"`
	Endpoint  string           `json:"endpoint,omitempty"`
	Proxy     string           `json:"proxy,omitempty"`
	Rotation  *RotationConfig  `json:"rotation,omitempty"`
	Security  *SecurityConfig  `json:"security,omitempty"`
}

// RateLimitConfig bounds how callers may use this credential.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute,omitempty"`
	TokensPerMinute   int `json:"tokensPerMinute,omitempty"`
}

// RotationConfig schedules automatic rotation.
type RotationConfig struct {
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval,omitempty"`
	NotifyBefore time.Duration `json:"notifyBefore,omitempty"`
}

// SecurityConfig carries security-relevant toggles for a credential.
type SecurityConfig struct {
	RequireLiveCheck bool          `json:"requireLiveCheck,omitempty"`
	MaxAge           time.Duration `json:"maxAge,omitempty"`
}
