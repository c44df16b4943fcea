package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/keyhaven/keyhaven/internal/crypto"
	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/rules"
	"github.com/keyhaven/keyhaven/internal/secure"
	"github.com/keyhaven/keyhaven/internal/validation"
)

// AddKeyInput carries everything needed to store a new credential.
type AddKeyInput struct {
	Key         string
	Provider    rules.Provider
	Name        string
	Description string
	KeyType     keys.KeyType
	Tags        []string
	Permissions []string
	Owner       string
	ExpiresAt   *time.Time
	Config      keys.Config
}

// AddKey validates, encrypts and persists a new credential. The raw key
// never reaches either store; only its hash, mask and ciphertext do.
func (m *Manager) AddKey(ctx context.Context, input AddKeyInput) (*keys.Encrypted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("add"); err != nil {
		return nil, err
	}

	result := m.engine.ValidateFormat(input.Key, input.Provider)
	if !result.Valid {
		return nil, kherrors.Wrap("add", "", kherrors.ErrInvalidFormat,
			fmt.Errorf("%s", strings.Join(result.Errors, "; ")))
	}

	sanitized := validation.Sanitize(input.Key)
	hash := keys.HashKey(sanitized)

	// Duplicate detection is global by content hash. The same secret
	// registered under two providers is still one secret.
	if ownerID, err := m.hashOwner(ctx, hash); err != nil {
		return nil, kherrors.Wrap("add", "", kherrors.ErrStorageFailed, err)
	} else if ownerID != "" {
		return nil, kherrors.Wrap("add", ownerID, kherrors.ErrDuplicateKey, nil)
	}

	raw := []byte(sanitized)
	payload, err := m.crypto.Encrypt(raw)
	secure.Wipe(raw)
	if err != nil {
		return nil, kherrors.Wrap("add", "", kherrors.ErrEncryptionFailed, err)
	}

	now := m.clock().UTC()
	keyType := input.KeyType
	if keyType == "" {
		keyType = result.KeyType
	}

	record := &keys.Encrypted{
		ID: keys.NewID(input.Provider, hash),
		Metadata: keys.Metadata{
			Provider:    input.Provider,
			KeyType:     keyType,
			Status:      keys.StatusActive,
			Name:        input.Name,
			Description: input.Description,
			CreatedAt:   now,
			ExpiresAt:   input.ExpiresAt,
			MaskedKey:   keys.Mask(sanitized),
			Permissions: input.Permissions,
			Tags:        input.Tags,
			Owner:       input.Owner,
		},
		Payload:  payload,
		KeyHash:  hash,
		Checksum: m.crypto.Checksum(crypto.PayloadBytes(payload)),
		Config:   input.Config,
		Usage:    keys.NewUsageStats(now),
		Rotation: keys.NewRotationStatus(),
	}
	record.Metadata.ID = record.ID

	if err := m.persistNewLocked(ctx, record, payload); err != nil {
		return nil, err
	}

	m.metrics.recordOp("add", "success")
	m.logger.Info("added API key %s (%s)", record.ID, record.Metadata.MaskedKey)
	return record, nil
}

// persistNewLocked writes the index document, the blob, and the hash
// index entry in order. A failure rolls back whatever already landed so
// the stores never hold a partial credential.
func (m *Manager) persistNewLocked(ctx context.Context, record *keys.Encrypted, payload keys.EncryptedPayload) error {
	if err := m.saveRecord(ctx, "add", record); err != nil {
		m.metrics.recordOp("add", "failure")
		return err
	}

	blob, err := json.Marshal(payload)
	if err == nil {
		err = m.blobs.Set(ctx, blobKey(record.ID), blob)
	}
	if err != nil {
		_ = m.index.Delete(ctx, collectionKeys, record.ID)
		m.metrics.recordOp("add", "failure")
		return kherrors.Wrap("add", record.ID, kherrors.ErrStorageFailed, err)
	}

	if err := m.putHashIndex(ctx, record.KeyHash, record.ID); err != nil {
		_ = m.blobs.Remove(ctx, blobKey(record.ID))
		_ = m.index.Delete(ctx, collectionKeys, record.ID)
		m.metrics.recordOp("add", "failure")
		return kherrors.Wrap("add", record.ID, kherrors.ErrStorageFailed, err)
	}
	return nil
}

// hashOwner returns the credential id owning a key hash, or "" when the
// hash is unclaimed.
func (m *Manager) hashOwner(ctx context.Context, hash string) (string, error) {
	doc, err := m.index.Get(ctx, collectionHashes, keys.HashIndexKey(hash))
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	var entry hashIndexDoc
	if err := json.Unmarshal(doc, &entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (m *Manager) putHashIndex(ctx context.Context, hash, id string) error {
	doc, err := json.Marshal(hashIndexDoc{ID: id, KeyHash: hash})
	if err != nil {
		return err
	}
	return m.index.Put(ctx, collectionHashes, keys.HashIndexKey(hash), doc)
}

func (m *Manager) deleteHashIndex(ctx context.Context, hash string) error {
	return m.index.Delete(ctx, collectionHashes, keys.HashIndexKey(hash))
}

// GetKey returns the full credential record including its encrypted
// payload. The checksum is verified before anything is returned; a
// mismatch surfaces as an integrity failure, distinct from not-found.
func (m *Manager) GetKey(ctx context.Context, id string) (*keys.Encrypted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("get"); err != nil {
		return nil, err
	}
	return m.getVerifiedLocked(ctx, "get", id)
}

func (m *Manager) getVerifiedLocked(ctx context.Context, op, id string) (*keys.Encrypted, error) {
	record, err := m.loadRecord(ctx, op, id)
	if err != nil {
		return nil, err
	}

	blob, err := m.blobs.Get(ctx, blobKey(id))
	if err != nil {
		if isNotFound(err) {
			return nil, kherrors.Wrap(op, id, kherrors.ErrIntegrityCheckFailed,
				fmt.Errorf("encrypted payload missing"))
		}
		return nil, kherrors.Wrap(op, id, kherrors.ErrStorageFailed, err)
	}
	var payload keys.EncryptedPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		return nil, kherrors.Wrap(op, id, kherrors.ErrIntegrityCheckFailed, err)
	}

	if !m.crypto.VerifyChecksum(crypto.PayloadBytes(payload), record.Checksum) {
		return nil, kherrors.Wrap(op, id, kherrors.ErrIntegrityCheckFailed,
			fmt.Errorf("checksum mismatch"))
	}

	record.Payload = payload
	return record, nil
}

// RevealKey decrypts the stored secret into a locked buffer. The caller
// owns the buffer and must destroy it.
func (m *Manager) RevealKey(ctx context.Context, id string) (*secure.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("reveal"); err != nil {
		return nil, err
	}
	return m.revealLocked(ctx, "reveal", id)
}

func (m *Manager) revealLocked(ctx context.Context, op, id string) (*secure.Buffer, error) {
	record, err := m.getVerifiedLocked(ctx, op, id)
	if err != nil {
		return nil, err
	}
	plain, err := m.crypto.Decrypt(record.Payload)
	if err != nil {
		return nil, kherrors.Wrap(op, id, kherrors.ErrEncryptionFailed, err)
	}
	return secure.NewBuffer(plain), nil
}

// UpdatePatch carries metadata-only changes. Nil fields are untouched.
// The encrypted secret is never modified by an update; only rotation
// may replace it.
type UpdatePatch struct {
	Name        *string
	Description *string
	Status      *keys.Status
	Tags        []string
	Permissions []string
	ExpiresAt   *time.Time
	Config      *keys.Config
}

// UpdateKey merges the patch into the stored metadata and rewrites the
// index document.
func (m *Manager) UpdateKey(ctx context.Context, id string, patch UpdatePatch) (*keys.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("update"); err != nil {
		return nil, err
	}

	record, err := m.loadRecord(ctx, "update", id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		record.Metadata.Name = *patch.Name
	}
	if patch.Description != nil {
		record.Metadata.Description = *patch.Description
	}
	if patch.Status != nil {
		record.Metadata.Status = *patch.Status
	}
	if patch.Tags != nil {
		record.Metadata.Tags = patch.Tags
	}
	if patch.Permissions != nil {
		record.Metadata.Permissions = patch.Permissions
	}
	if patch.ExpiresAt != nil {
		record.Metadata.ExpiresAt = patch.ExpiresAt
	}
	if patch.Config != nil {
		record.Config = *patch.Config
	}

	if err := m.saveRecord(ctx, "update", record); err != nil {
		m.metrics.recordOp("update", "failure")
		return nil, err
	}
	m.metrics.recordOp("update", "success")
	meta := record.Metadata
	return &meta, nil
}

// DeleteKey removes the credential from both stores plus its hash index
// entry. Deleting an absent id returns false without error.
func (m *Manager) DeleteKey(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("delete"); err != nil {
		return false, err
	}

	record, err := m.loadRecord(ctx, "delete", id)
	if err != nil {
		if kherrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	// The blob may already be gone from an earlier partial delete.
	oldBlob, err := m.blobs.Get(ctx, blobKey(id))
	if err != nil && !isNotFound(err) {
		return false, kherrors.Wrap("delete", id, kherrors.ErrStorageFailed, err)
	}

	// Delete in reverse dependency order, index document last: the record
	// must stay listed until its blob and hash entry are gone, otherwise
	// the surviving hash entry blocks re-adding the key against an id
	// that no longer resolves.
	if err := m.deleteHashIndex(ctx, record.KeyHash); err != nil {
		m.metrics.recordOp("delete", "failure")
		return false, kherrors.Wrap("delete", id, kherrors.ErrStorageFailed, err)
	}
	if err := m.blobs.Remove(ctx, blobKey(id)); err != nil {
		if rerr := m.putHashIndex(ctx, record.KeyHash, id); rerr != nil {
			m.logger.Error("delete rollback: restoring hash index for %s failed: %v", id, rerr)
		}
		m.metrics.recordOp("delete", "failure")
		return false, kherrors.Wrap("delete", id, kherrors.ErrStorageFailed, err)
	}
	if err := m.index.Delete(ctx, collectionKeys, id); err != nil {
		if oldBlob != nil {
			if rerr := m.blobs.Set(ctx, blobKey(id), oldBlob); rerr != nil {
				m.logger.Error("delete rollback: restoring blob for %s failed: %v", id, rerr)
			}
		}
		if rerr := m.putHashIndex(ctx, record.KeyHash, id); rerr != nil {
			m.logger.Error("delete rollback: restoring hash index for %s failed: %v", id, rerr)
		}
		m.metrics.recordOp("delete", "failure")
		return false, kherrors.Wrap("delete", id, kherrors.ErrStorageFailed, err)
	}

	m.metrics.recordOp("delete", "success")
	m.logger.Info("deleted API key %s", id)
	return true, nil
}

// RevokeKey is the soft delete: the record stays but its status becomes
// revoked. Revoking an absent id returns false without error.
func (m *Manager) RevokeKey(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("revoke"); err != nil {
		return false, err
	}

	record, err := m.loadRecord(ctx, "revoke", id)
	if err != nil {
		if kherrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	record.Metadata.Status = keys.StatusRevoked
	if err := m.saveRecord(ctx, "revoke", record); err != nil {
		return false, err
	}
	m.metrics.recordOp("revoke", "success")
	m.logger.Info("revoked API key %s", id)
	return true, nil
}

// ListOptions filters and paginates credential listings.
type ListOptions struct {
	Provider rules.Provider
	Status   keys.Status
	KeyType  keys.KeyType
	Tags     []string
	// Search matches case-insensitively against name and description.
	Search string
	Offset int
	Limit  int
}

// ListResult is one page of credential metadata.
type ListResult struct {
	Keys    []keys.Metadata
	Total   int
	HasMore bool
}

// ListKeys returns metadata pages. Secrets are never decrypted here;
// search runs over metadata only. Status filtering uses the effective
// status, so expiry is visible without a write.
func (m *Manager) ListKeys(ctx context.Context, opts ListOptions) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("list"); err != nil {
		return nil, err
	}

	docs, err := m.index.GetAll(ctx, collectionKeys)
	if err != nil {
		return nil, kherrors.Wrap("list", "", kherrors.ErrStorageFailed, err)
	}

	now := m.clock()
	var matched []keys.Metadata
	for _, doc := range docs {
		var record keys.Encrypted
		if err := json.Unmarshal(doc, &record); err != nil {
			continue
		}
		meta := record.Metadata
		meta.Status = meta.EffectiveStatus(now)
		if matchesFilter(meta, opts) {
			matched = append(matched, meta)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < total {
		end = start + opts.Limit
	}

	return &ListResult{
		Keys:    matched[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// GetKeysByProvider lists every credential for one provider.
func (m *Manager) GetKeysByProvider(ctx context.Context, provider rules.Provider) ([]keys.Metadata, error) {
	result, err := m.ListKeys(ctx, ListOptions{Provider: provider})
	if err != nil {
		return nil, err
	}
	return result.Keys, nil
}

func matchesFilter(meta keys.Metadata, opts ListOptions) bool {
	if opts.Provider != "" && meta.Provider != opts.Provider {
		return false
	}
	if opts.Status != "" && meta.Status != opts.Status {
		return false
	}
	if opts.KeyType != "" && meta.KeyType != opts.KeyType {
		return false
	}
	for _, want := range opts.Tags {
		if !containsString(meta.Tags, want) {
			return false
		}
	}
	if opts.Search != "" {
		needle := strings.ToLower(opts.Search)
		if !strings.Contains(strings.ToLower(meta.Name), needle) &&
			!strings.Contains(strings.ToLower(meta.Description), needle) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, want string) bool {
	for _, s := range haystack {
		if s == want {
			return true
		}
	}
	return false
}

// RecordUsage folds one observation into the credential's usage stats
// and bumps LastUsed.
func (m *Manager) RecordUsage(ctx context.Context, id string, sample keys.UsageSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("record usage for"); err != nil {
		return err
	}

	record, err := m.loadRecord(ctx, "record usage for", id)
	if err != nil {
		return err
	}

	now := m.clock().UTC()
	if record.Usage == nil {
		record.Usage = keys.NewUsageStats(now)
	}
	record.Usage.Record(sample)
	record.Metadata.LastUsed = now

	return m.saveRecord(ctx, "record usage for", record)
}

// GetKeyUsageStats returns the accumulated usage counters for one
// credential.
func (m *Manager) GetKeyUsageStats(ctx context.Context, id string) (*keys.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("get usage for"); err != nil {
		return nil, err
	}

	record, err := m.loadRecord(ctx, "get usage for", id)
	if err != nil {
		return nil, err
	}
	if record.Usage == nil {
		stats := keys.NewUsageStats(m.clock().UTC())
		return stats, nil
	}
	stats := *record.Usage
	return &stats, nil
}

// TestKeyConnection decrypts the stored secret only long enough to run
// a live probe against the provider. The plaintext is wiped before
// returning and never appears in the result or the logs.
func (m *Manager) TestKeyConnection(ctx context.Context, id string) (*validation.LiveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("test"); err != nil {
		return nil, err
	}

	record, err := m.loadRecord(ctx, "test", id)
	if err != nil {
		return nil, err
	}
	buf, err := m.revealLocked(ctx, "test", id)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	var result validation.LiveResult
	err = buf.With(func(data []byte) error {
		result = m.engine.ValidateLive(ctx, string(data), record.Metadata.Provider, 0)
		return nil
	})
	if err != nil {
		return nil, kherrors.Wrap("test", id, kherrors.ErrEncryptionFailed, err)
	}
	return &result, nil
}
