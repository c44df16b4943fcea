// Package vault implements the secure storage manager: lifecycle state
// machine, credential CRUD with duplicate suppression and integrity
// checksums, rotation with rollback, usage accounting, import/export,
// and health reporting. Plaintext key material only exists transiently
// inside an operation and is wiped before it returns.
package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/keyhaven/keyhaven/internal/crypto"
	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/logging"
	"github.com/keyhaven/keyhaven/internal/secure"
	"github.com/keyhaven/keyhaven/internal/store"
	"github.com/keyhaven/keyhaven/internal/validation"
)

// State is the manager's lifecycle position.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateLocked        State = "locked"
)

const (
	collectionKeys   = "api_keys"
	collectionHashes = "api_key_hashes"
	collectionMeta   = "vault_meta"
	metaDocID        = "crypto"

	defaultSessionTTL = 15 * time.Minute
)

// canaryPlaintext is a fixed value encrypted at initialization so a
// later unlock can verify the passphrase without any credential present.
const canaryPlaintext = "keyhaven-canary-v1"

// blobKey derives the blob store key for a credential id.
func blobKey(id string) string {
	return "blob_" + id
}

// hashIndexDoc is the duplicate-index document mapping a key hash to
// the credential id that owns it.
type hashIndexDoc struct {
	ID      string `json:"id"`
	KeyHash string `json:"keyHash"`
}

// metaDoc is the vault bootstrap record: the KDF salt plus a canary
// ciphertext used to verify the passphrase on unlock.
type metaDoc struct {
	Version        int                   `json:"version"`
	Salt           string                `json:"salt"`
	Canary         keys.EncryptedPayload `json:"canary"`
	CanaryChecksum string                `json:"canaryChecksum"`
	CreatedAt      time.Time             `json:"createdAt"`
}

// Config assembles a Manager from its collaborators.
type Config struct {
	Index  store.IndexStore
	Blobs  store.BlobStore
	Engine *validation.Engine
	Logger *logging.Logger

	// SessionTTL is the sliding inactivity window before the vault
	// locks itself. Zero means the default; negative disables expiry.
	SessionTTL time.Duration

	// Clock is overridable in tests.
	Clock func() time.Time
}

// Manager is the secure storage manager. All exported methods are safe
// for concurrent use.
type Manager struct {
	mu sync.Mutex

	state  State
	crypto crypto.Service
	// salt is the vault's KDF salt from the bootstrap record. It is not
	// secret; import needs it to tell foreign bundles from its own.
	salt []byte
	// passphrase holds the session passphrase sealed in an enclave so
	// import can re-derive keys for bundles exported under another salt.
	passphrase     *secure.Buffer
	index          store.IndexStore
	blobs          store.BlobStore
	engine         *validation.Engine
	logger         *logging.Logger
	sessionTTL     time.Duration
	sessionExpires time.Time
	clock          func() time.Time
	metrics        *managerMetrics
}

// NewManager creates a manager in the uninitialized state. Initialize
// or Unlock must run before any credential operation.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.New(false, true)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &Manager{
		state:      StateUninitialized,
		index:      cfg.Index,
		blobs:      cfg.Blobs,
		engine:     cfg.Engine,
		logger:     cfg.Logger,
		sessionTTL: cfg.SessionTTL,
		clock:      cfg.Clock,
		metrics:    newManagerMetrics(),
	}
}

// State reports the current lifecycle state, accounting for session
// expiry.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireSessionLocked()
	return m.state
}

// Initialize derives the crypto service from the passphrase. On first
// use it generates a salt and persists the bootstrap record; on later
// calls it verifies the passphrase against the stored canary, so
// Initialize doubles as Unlock. The passphrase slice is wiped.
func (m *Manager) Initialize(ctx context.Context, passphrase []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	m.state = StateInitializing

	// Keep a copy before derivation wipes the caller's slice; on success
	// it is sealed for the session so import can re-derive foreign keys.
	keep := make([]byte, len(passphrase))
	copy(keep, passphrase)

	doc, err := m.index.Get(ctx, collectionMeta, metaDocID)
	switch {
	case err == nil:
		err = m.unlockLocked(passphrase, doc)
	case isNotFound(err):
		err = m.bootstrapLocked(ctx, passphrase)
	default:
		err = kherrors.Wrap("initialize", "", kherrors.ErrStorageFailed, err)
	}

	if err != nil {
		secure.Wipe(keep)
		if prev == StateUninitialized {
			m.state = StateUninitialized
		} else {
			m.state = StateLocked
		}
		return err
	}

	if m.passphrase != nil {
		m.passphrase.Destroy()
	}
	m.passphrase = secure.NewBuffer(keep)
	m.state = StateReady
	m.touchSessionLocked()
	m.logger.Info("vault unlocked")
	return nil
}

// Unlock verifies the passphrase against the persisted bootstrap
// record and moves a locked vault back to ready.
func (m *Manager) Unlock(ctx context.Context, passphrase []byte) error {
	return m.Initialize(ctx, passphrase)
}

func (m *Manager) bootstrapLocked(ctx context.Context, passphrase []byte) error {
	salt, err := crypto.NewSalt()
	if err != nil {
		return kherrors.Wrap("initialize", "", kherrors.ErrEncryptionFailed, err)
	}
	svc, err := crypto.NewAESGCM(passphrase, salt)
	if err != nil {
		return kherrors.Wrap("initialize", "", kherrors.ErrEncryptionFailed, err)
	}

	canary, err := svc.Encrypt([]byte(canaryPlaintext))
	if err != nil {
		return kherrors.Wrap("initialize", "", kherrors.ErrEncryptionFailed, err)
	}
	meta := metaDoc{
		Version:        1,
		Salt:           hex.EncodeToString(salt),
		Canary:         canary,
		CanaryChecksum: svc.Checksum(crypto.PayloadBytes(canary)),
		CreatedAt:      m.clock().UTC(),
	}
	doc, err := json.Marshal(meta)
	if err != nil {
		return kherrors.Wrap("initialize", "", kherrors.ErrStorageFailed, err)
	}
	if err := m.index.Put(ctx, collectionMeta, metaDocID, doc); err != nil {
		return kherrors.Wrap("initialize", "", kherrors.ErrStorageFailed, err)
	}

	m.crypto = svc
	m.salt = salt
	m.logger.Info("vault initialized")
	return nil
}

func (m *Manager) unlockLocked(passphrase []byte, doc []byte) error {
	var meta metaDoc
	if err := json.Unmarshal(doc, &meta); err != nil {
		return kherrors.Wrap("unlock", "", kherrors.ErrStorageFailed, err)
	}
	salt, err := hex.DecodeString(meta.Salt)
	if err != nil {
		return kherrors.Wrap("unlock", "", kherrors.ErrStorageFailed, err)
	}
	svc, err := crypto.NewAESGCM(passphrase, salt)
	if err != nil {
		return kherrors.Wrap("unlock", "", kherrors.ErrEncryptionFailed, err)
	}

	plain, err := svc.Decrypt(meta.Canary)
	if err != nil || string(plain) != canaryPlaintext {
		return kherrors.Wrap("unlock", "", kherrors.ErrWrongPassphrase,
			fmt.Errorf("canary verification failed"))
	}
	m.crypto = svc
	m.salt = salt
	return nil
}

// Lock drops the derived key material and moves the vault to locked.
// Safe to call in any state.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUninitialized {
		return
	}
	m.crypto = nil
	m.dropPassphraseLocked()
	m.state = StateLocked
	m.logger.Info("vault locked")
}

func (m *Manager) dropPassphraseLocked() {
	if m.passphrase != nil {
		m.passphrase.Destroy()
		m.passphrase = nil
	}
}

// ClearCache drops the validation engine's format and live caches.
func (m *Manager) ClearCache() {
	if m.engine != nil {
		m.engine.ClearCaches()
	}
	m.logger.Debug("validation caches cleared")
}

// Shutdown locks the vault and clears transient state. The manager can
// be unlocked again afterwards; Shutdown exists so callers have a
// single teardown hook.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.ClearCache()
	m.Lock()
	m.logger.Info("vault shut down")
	return nil
}

// ensureReadyLocked enforces the two operation preconditions: crypto
// initialized and session active. Must hold m.mu.
func (m *Manager) ensureReadyLocked(op string) error {
	m.expireSessionLocked()

	switch m.state {
	case StateReady:
		m.touchSessionLocked()
		return nil
	case StateLocked:
		return kherrors.Wrap(op, "", kherrors.ErrSessionExpired, nil)
	default:
		return kherrors.Wrap(op, "", kherrors.ErrNotInitialized, nil)
	}
}

func (m *Manager) expireSessionLocked() {
	if m.state != StateReady || m.sessionTTL < 0 {
		return
	}
	if m.clock().After(m.sessionExpires) {
		m.crypto = nil
		m.dropPassphraseLocked()
		m.state = StateLocked
		m.logger.Warn("session expired, vault locked")
	}
}

func (m *Manager) touchSessionLocked() {
	if m.sessionTTL > 0 {
		m.sessionExpires = m.clock().Add(m.sessionTTL)
	}
}

// loadRecord fetches and unmarshals one credential document.
func (m *Manager) loadRecord(ctx context.Context, op, id string) (*keys.Encrypted, error) {
	doc, err := m.index.Get(ctx, collectionKeys, id)
	if err != nil {
		if isNotFound(err) {
			return nil, kherrors.Wrap(op, id, kherrors.ErrNotFound, err)
		}
		return nil, kherrors.Wrap(op, id, kherrors.ErrStorageFailed, err)
	}
	var record keys.Encrypted
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, kherrors.Wrap(op, id, kherrors.ErrStorageFailed, err)
	}
	return &record, nil
}

// saveRecord persists one credential document. The payload lives in the
// blob store, so it is stripped before indexing.
func (m *Manager) saveRecord(ctx context.Context, op string, record *keys.Encrypted) error {
	indexed := *record
	indexed.Payload = keys.EncryptedPayload{}
	doc, err := json.Marshal(&indexed)
	if err != nil {
		return kherrors.Wrap(op, record.ID, kherrors.ErrStorageFailed, err)
	}
	if err := m.index.Put(ctx, collectionKeys, record.ID, doc); err != nil {
		return kherrors.Wrap(op, record.ID, kherrors.ErrStorageFailed, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return kherrors.IsNotFound(err)
}
