package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/keyhaven/keyhaven/internal/crypto"
	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/secure"
)

const bundleVersion = 1

// Bundle is the export/import container. Secrets, when included, stay
// encrypted; export never decrypts. Salt is the source vault's KDF
// salt, so a destination vault unlocked with the same passphrase can
// re-derive the key the payloads were sealed under.
type Bundle struct {
	Version         int              `json:"version"`
	ExportedAt      time.Time        `json:"exportedAt"`
	IncludesSecrets bool             `json:"includesSecrets"`
	Salt            string           `json:"salt,omitempty"`
	Entries         []keys.Encrypted `json:"entries"`
}

// bundleSchema validates an import payload before any entry is
// processed. Entry-level problems are still reported per entry; the
// schema only rejects bundles whose overall shape is wrong.
const bundleSchema = `{
	"type": "object",
	"required": ["version", "entries"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"exportedAt": {"type": "string"},
		"includesSecrets": {"type": "boolean"},
		"entries": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "metadata"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"metadata": {
						"type": "object",
						"required": ["id", "provider"],
						"properties": {
							"id": {"type": "string"},
							"provider": {"type": "string"}
						}
					},
					"keyHash": {"type": "string"},
					"checksum": {"type": "string"}
				}
			}
		},
		"salt": {"type": "string"}
	}
}`

// ExportKeys builds a bundle of every stored credential. With secrets
// included, each entry carries its encrypted payload read back from the
// blob store; without, entries are metadata-only.
func (m *Manager) ExportKeys(ctx context.Context, includeSecrets bool) (*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("export"); err != nil {
		return nil, err
	}

	docs, err := m.index.GetAll(ctx, collectionKeys)
	if err != nil {
		return nil, kherrors.Wrap("export", "", kherrors.ErrStorageFailed, err)
	}

	bundle := &Bundle{
		Version:         bundleVersion,
		ExportedAt:      m.clock().UTC(),
		IncludesSecrets: includeSecrets,
		Entries:         make([]keys.Encrypted, 0, len(docs)),
	}
	if includeSecrets {
		bundle.Salt = hex.EncodeToString(m.salt)
	}

	for _, doc := range docs {
		var record keys.Encrypted
		if err := json.Unmarshal(doc, &record); err != nil {
			continue
		}
		if includeSecrets {
			blob, err := m.blobs.Get(ctx, blobKey(record.ID))
			if err != nil {
				return nil, kherrors.Wrap("export", record.ID, kherrors.ErrStorageFailed, err)
			}
			if err := json.Unmarshal(blob, &record.Payload); err != nil {
				return nil, kherrors.Wrap("export", record.ID, kherrors.ErrIntegrityCheckFailed, err)
			}
		} else {
			record.Payload = keys.EncryptedPayload{}
			record.Checksum = ""
			record.KeyHash = ""
		}
		bundle.Entries = append(bundle.Entries, record)
	}

	m.logger.Info("exported %d keys (secrets: %v)", len(bundle.Entries), includeSecrets)
	return bundle, nil
}

// ImportError records why one bundle entry was skipped.
type ImportError struct {
	ID  string `json:"id"`
	Err string `json:"error"`
}

// ImportResult summarizes an import: entries are processed
// independently, one failure never aborts the rest.
type ImportResult struct {
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Errors  []ImportError `json:"errors,omitempty"`
}

// ImportKeys validates the bundle against the schema, then imports each
// entry: index document, encrypted blob, and hash index entry. Entries
// that collide with an existing id or key hash are reported and
// skipped.
func (m *Manager) ImportKeys(ctx context.Context, data []byte) (*ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("import"); err != nil {
		return nil, err
	}

	schemaResult, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(bundleSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, kherrors.Wrap("import", "", kherrors.ErrStorageFailed, err)
	}
	if !schemaResult.Valid() {
		detail := "invalid bundle"
		if errs := schemaResult.Errors(); len(errs) > 0 {
			detail = errs[0].String()
		}
		return nil, kherrors.Wrap("import", "", kherrors.ErrInvalidFormat,
			fmt.Errorf("%s", detail))
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, kherrors.Wrap("import", "", kherrors.ErrStorageFailed, err)
	}

	// Bundles exported under another vault's salt carry payloads sealed
	// with a different derived key. Re-derive it from the session
	// passphrase so entries can be re-encrypted under this vault's key.
	var source crypto.Service
	if bundle.Salt != "" && bundle.Salt != hex.EncodeToString(m.salt) {
		srcSalt, err := hex.DecodeString(bundle.Salt)
		if err != nil {
			return nil, kherrors.Wrap("import", "", kherrors.ErrInvalidFormat,
				fmt.Errorf("malformed bundle salt: %w", err))
		}
		source, err = m.deriveForSaltLocked(srcSalt)
		if err != nil {
			return nil, err
		}
	}

	result := &ImportResult{}
	for _, entry := range bundle.Entries {
		if err := m.importEntryLocked(ctx, entry, source); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ImportError{ID: entry.ID, Err: err.Error()})
			continue
		}
		result.Success++
	}

	m.logger.Info("imported %d keys, %d failed", result.Success, result.Failed)
	return result, nil
}

// deriveForSaltLocked builds a crypto service for a foreign KDF salt
// from the sealed session passphrase.
func (m *Manager) deriveForSaltLocked(salt []byte) (crypto.Service, error) {
	if m.passphrase == nil {
		return nil, kherrors.Wrap("import", "", kherrors.ErrNotInitialized,
			fmt.Errorf("session passphrase unavailable"))
	}
	var svc crypto.Service
	err := m.passphrase.With(func(data []byte) error {
		// NewAESGCM wipes its input; it must not touch the enclave copy.
		pass := make([]byte, len(data))
		copy(pass, data)
		derived, err := crypto.NewAESGCM(pass, salt)
		if err != nil {
			return err
		}
		svc = derived
		return nil
	})
	if err != nil {
		return nil, kherrors.Wrap("import", "", kherrors.ErrEncryptionFailed, err)
	}
	return svc, nil
}

func (m *Manager) importEntryLocked(ctx context.Context, entry keys.Encrypted, source crypto.Service) error {
	if len(entry.Payload.Cipher) == 0 {
		return fmt.Errorf("entry has no encrypted payload")
	}
	if entry.KeyHash == "" || entry.Checksum == "" {
		return fmt.Errorf("entry is missing key hash or checksum")
	}
	if !m.crypto.VerifyChecksum(crypto.PayloadBytes(entry.Payload), entry.Checksum) {
		return fmt.Errorf("payload checksum mismatch")
	}

	if _, err := m.index.Get(ctx, collectionKeys, entry.ID); err == nil {
		return fmt.Errorf("id already exists")
	} else if !isNotFound(err) {
		return err
	}
	ownerID, err := m.hashOwner(ctx, entry.KeyHash)
	if err != nil {
		return err
	}
	if ownerID != "" {
		return fmt.Errorf("key hash already stored under %s", ownerID)
	}

	if source != nil {
		plain, err := source.Decrypt(entry.Payload)
		if err != nil {
			return fmt.Errorf("decrypting bundle payload: %w", err)
		}
		resealed, err := m.crypto.Encrypt(plain)
		secure.Wipe(plain)
		if err != nil {
			return fmt.Errorf("re-encrypting payload: %w", err)
		}
		entry.Payload = resealed
		entry.Checksum = m.crypto.Checksum(crypto.PayloadBytes(resealed))
	}

	payload := entry.Payload
	if err := m.saveRecord(ctx, "import", &entry); err != nil {
		return err
	}
	blob, err := json.Marshal(payload)
	if err == nil {
		err = m.blobs.Set(ctx, blobKey(entry.ID), blob)
	}
	if err != nil {
		_ = m.index.Delete(ctx, collectionKeys, entry.ID)
		return err
	}
	if err := m.putHashIndex(ctx, entry.KeyHash, entry.ID); err != nil {
		_ = m.blobs.Remove(ctx, blobKey(entry.ID))
		_ = m.index.Delete(ctx, collectionKeys, entry.ID)
		return err
	}
	return nil
}
