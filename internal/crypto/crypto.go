// Package crypto defines the encryption collaborator contract used by
// the vault and provides the default AES-256-GCM implementation with a
// passphrase-derived key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"

	"github.com/keyhaven/keyhaven/internal/keys"
)

// Service is the encryption collaborator. Implementations must use an
// authenticated cipher and a fresh random IV per encryption.
type Service interface {
	Encrypt(plaintext []byte) (keys.EncryptedPayload, error)
	Decrypt(payload keys.EncryptedPayload) ([]byte, error)
	Checksum(data []byte) string
	VerifyChecksum(data []byte, digest string) bool
}

const (
	algorithmName  = "AES-256-GCM"
	payloadVersion = 1
	kdfIterations  = 210_000
	keyBytes       = 32
)

// AESGCM is the default Service. The derived key lives in a memguard
// enclave and is opened only for the duration of each operation.
type AESGCM struct {
	key *memguard.Enclave
}

// NewAESGCM derives a 256-bit key from the passphrase and salt with
// PBKDF2-SHA256. The passphrase slice is wiped before returning.
func NewAESGCM(passphrase, salt []byte) (*AESGCM, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt must be at least 16 bytes, got %d", len(salt))
	}

	derived := pbkdf2.Key(passphrase, salt, kdfIterations, keyBytes, sha256.New)
	for i := range passphrase {
		passphrase[i] = 0
	}

	// NewEnclave wipes the derived slice after sealing it.
	return &AESGCM{key: memguard.NewEnclave(derived)}, nil
}

// NewSalt returns a fresh random KDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
func (s *AESGCM) Encrypt(plaintext []byte) (keys.EncryptedPayload, error) {
	gcm, locked, err := s.openCipher()
	if err != nil {
		return keys.EncryptedPayload{}, err
	}
	defer locked.Destroy()

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return keys.EncryptedPayload{}, fmt.Errorf("reading nonce: %w", err)
	}

	return keys.EncryptedPayload{
		Cipher:    gcm.Seal(nil, iv, plaintext, nil),
		IV:        iv,
		Algorithm: algorithmName,
		Version:   payloadVersion,
	}, nil
}

// Decrypt opens a payload produced by Encrypt.
func (s *AESGCM) Decrypt(payload keys.EncryptedPayload) ([]byte, error) {
	if payload.Algorithm != algorithmName {
		return nil, fmt.Errorf("unsupported algorithm %q", payload.Algorithm)
	}

	gcm, locked, err := s.openCipher()
	if err != nil {
		return nil, err
	}
	defer locked.Destroy()

	if len(payload.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("bad nonce size %d", len(payload.IV))
	}
	plaintext, err := gcm.Open(nil, payload.IV, payload.Cipher, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return plaintext, nil
}

// Checksum returns a hex SHA-256 digest.
func (s *AESGCM) Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum compares in constant time.
func (s *AESGCM) VerifyChecksum(data []byte, digest string) bool {
	sum := sha256.Sum256(data)
	expected, err := hex.DecodeString(digest)
	if err != nil || len(expected) != len(sum) {
		return false
	}
	return subtle.ConstantTimeCompare(sum[:], expected) == 1
}

func (s *AESGCM) openCipher() (cipher.AEAD, *memguard.LockedBuffer, error) {
	locked, err := s.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening key enclave: %w", err)
	}

	block, err := aes.NewCipher(locked.Bytes())
	if err != nil {
		locked.Destroy()
		return nil, nil, fmt.Errorf("initializing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		locked.Destroy()
		return nil, nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return gcm, locked, nil
}

// PayloadBytes is the canonical byte form a checksum covers: IV followed
// by ciphertext.
func PayloadBytes(payload keys.EncryptedPayload) []byte {
	out := make([]byte, 0, len(payload.IV)+len(payload.Cipher))
	out = append(out, payload.IV...)
	return append(out, payload.Cipher...)
}
