package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/keyhaven/keyhaven/internal/crypto"
	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/secure"
	"github.com/keyhaven/keyhaven/internal/validation"
)

// RotationResult reports the outcome of one rotation attempt.
type RotationResult struct {
	Success           bool
	KeyID             string
	RotatedAt         time.Time
	RollbackAvailable bool
	Error             string
}

// RotateKey replaces the encrypted secret with a new raw key. The new
// key's format is validated before storage is touched; after the first
// write, any failure restores the pre-rotation blob and index state so
// the credential is never left mixed.
func (m *Manager) RotateKey(ctx context.Context, id, newKey string) (*RotationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureReadyLocked("rotate"); err != nil {
		return nil, err
	}

	record, err := m.loadRecord(ctx, "rotate", id)
	if err != nil {
		return nil, err
	}

	// Format failures reject before any write. History stays untouched.
	result := m.engine.ValidateFormat(newKey, record.Metadata.Provider)
	if !result.Valid {
		return &RotationResult{KeyID: id, Error: strings.Join(result.Errors, "; ")},
			kherrors.Wrap("rotate", id, kherrors.ErrInvalidFormat,
				fmt.Errorf("%s", strings.Join(result.Errors, "; ")))
	}

	sanitized := validation.Sanitize(newKey)
	newHash := keys.HashKey(sanitized)

	if newHash != record.KeyHash {
		ownerID, err := m.hashOwner(ctx, newHash)
		if err != nil {
			return nil, kherrors.Wrap("rotate", id, kherrors.ErrStorageFailed, err)
		}
		if ownerID != "" {
			return &RotationResult{KeyID: id, Error: "new key already stored"},
				kherrors.Wrap("rotate", id, kherrors.ErrDuplicateKey, nil)
		}
	}

	// Snapshot the current blob and document for rollback.
	oldBlob, err := m.blobs.Get(ctx, blobKey(id))
	if err != nil {
		return nil, kherrors.Wrap("rotate", id, kherrors.ErrStorageFailed, err)
	}
	oldDoc, err := m.index.Get(ctx, collectionKeys, id)
	if err != nil {
		return nil, kherrors.Wrap("rotate", id, kherrors.ErrStorageFailed, err)
	}
	oldHash := record.KeyHash

	m.metrics.recordRotation("started")
	now := m.clock().UTC()

	raw := []byte(sanitized)
	payload, err := m.crypto.Encrypt(raw)
	secure.Wipe(raw)
	if err != nil {
		return m.rotationFailedLocked(ctx, record, now, "encryption failed", nil),
			kherrors.Wrap("rotate", id, kherrors.ErrEncryptionFailed, err)
	}

	if record.Rotation == nil {
		record.Rotation = keys.NewRotationStatus()
	}
	record.Payload = payload
	record.KeyHash = newHash
	record.Checksum = m.crypto.Checksum(crypto.PayloadBytes(payload))
	record.Metadata.MaskedKey = keys.Mask(sanitized)
	record.Metadata.Status = keys.StatusActive
	record.Rotation.RecordEvent(keys.RotationEvent{
		Timestamp: now,
		Success:   true,
		OldKeyID:  id,
		NewKeyID:  id,
	})

	blob, err := json.Marshal(payload)
	if err == nil {
		err = m.blobs.Set(ctx, blobKey(id), blob)
	}
	if err != nil {
		return m.rotationFailedLocked(ctx, record, now, "blob write failed", oldDoc),
			kherrors.Wrap("rotate", id, kherrors.ErrRotationFailed, err)
	}

	if err := m.saveRecord(ctx, "rotate", record); err != nil {
		m.rollbackBlobLocked(ctx, id, oldBlob)
		return m.rotationFailedLocked(ctx, record, now, "index write failed", oldDoc),
			kherrors.Wrap("rotate", id, kherrors.ErrRotationFailed, err)
	}

	// Swap the duplicate index: claim the new hash, release the old so a
	// future add of the old value does not spuriously collide.
	if newHash != oldHash {
		if err := m.putHashIndex(ctx, newHash, id); err != nil {
			m.rollbackBlobLocked(ctx, id, oldBlob)
			_ = m.index.Put(ctx, collectionKeys, id, oldDoc)
			return m.rotationFailedLocked(ctx, record, now, "hash index write failed", oldDoc),
				kherrors.Wrap("rotate", id, kherrors.ErrRotationFailed, err)
		}
		if err := m.deleteHashIndex(ctx, oldHash); err != nil {
			m.logger.Error("rotation: releasing old hash index for %s failed: %v", id, err)
		}
	}

	m.metrics.recordRotation("completed")
	m.logger.Info("rotated API key %s", id)
	return &RotationResult{Success: true, KeyID: id, RotatedAt: now}, nil
}

// rollbackBlobLocked restores the pre-rotation blob.
func (m *Manager) rollbackBlobLocked(ctx context.Context, id string, oldBlob []byte) {
	if err := m.blobs.Set(ctx, blobKey(id), oldBlob); err != nil {
		m.logger.Error("rotation rollback: restoring blob for %s failed: %v", id, err)
		m.metrics.recordRotation("rollback_failed")
		return
	}
	m.metrics.recordRotation("rolled_back")
}

// rotationFailedLocked records a failed attempt in the credential's
// rotation history. When restoreDoc is non-nil the pre-rotation index
// document is the base state the failure entry is appended to.
func (m *Manager) rotationFailedLocked(ctx context.Context, record *keys.Encrypted, now time.Time, reason string, restoreDoc []byte) *RotationResult {
	m.metrics.recordRotation("failed")

	base := record
	if restoreDoc != nil {
		var restored keys.Encrypted
		if err := json.Unmarshal(restoreDoc, &restored); err == nil {
			base = &restored
		}
	}
	if base.Rotation == nil {
		base.Rotation = keys.NewRotationStatus()
	}
	base.Rotation.RecordEvent(keys.RotationEvent{
		Timestamp: now,
		Success:   false,
		Reason:    reason,
		OldKeyID:  record.ID,
	})
	base.Metadata.Status = keys.StatusActive
	if err := m.saveRecord(ctx, "rotate", base); err != nil {
		m.logger.Error("recording rotation failure for %s failed: %v", record.ID, err)
	}

	return &RotationResult{
		KeyID:             record.ID,
		RollbackAvailable: true,
		Error:             reason,
	}
}
