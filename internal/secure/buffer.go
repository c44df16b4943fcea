// Package secure wraps memguard so decrypted key material lives only in
// encrypted, mlocked enclaves while at rest in memory.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer holds sensitive bytes in a memguard enclave. The plaintext is
// encrypted at rest in memory and protected from swapping where the
// platform allows mlock.
type Buffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewBuffer copies data into a protected enclave. The caller should wipe
// its own copy afterwards.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the enclave into a locked buffer. The caller must call
// Destroy on the returned buffer when done.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// With runs fn against the decrypted bytes and wipes the plaintext
// before returning. The slice must not escape fn.
func (b *Buffer) With(fn func(data []byte) error) error {
	locked, err := b.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy marks the buffer unusable. Idempotent. The enclave's encrypted
// content is safe to leave for garbage collection; call memguard.Purge
// at process exit for full cleanup.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Wipe zeroes a byte slice in place.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
