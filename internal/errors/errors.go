// Package errors defines the error taxonomy shared across the vault,
// the validation engine, and the storage backends.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers match them with errors.Is after the vault
// wraps collaborator failures with operation context.
var (
	ErrNotInitialized       = errors.New("vault is not initialized")
	ErrSessionExpired       = errors.New("session is locked or expired")
	ErrInvalidFormat        = errors.New("invalid API key format")
	ErrDuplicateKey         = errors.New("API key already exists")
	ErrNotFound             = errors.New("API key not found")
	ErrIntegrityCheckFailed = errors.New("data integrity check failed")
	ErrEncryptionFailed     = errors.New("encryption failed")
	ErrStorageFailed        = errors.New("storage operation failed")
	ErrRateLimited          = errors.New("validation rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrTimeout              = errors.New("request timed out")
	ErrAborted              = errors.New("request aborted")
	ErrRotationFailed       = errors.New("key rotation failed")
	ErrWrongPassphrase      = errors.New("passphrase does not match")
)

// OpError wraps a failure from a collaborator (store, crypto, network)
// with the vault operation and credential id it occurred in. The
// underlying collaborator error stays reachable through Unwrap but is
// never surfaced as the primary message.
type OpError struct {
	Op   string // vault operation, e.g. "add", "rotate"
	ID   string // credential id, may be empty before one is assigned
	Kind error  // one of the sentinel errors above
	Err  error  // collaborator cause
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("failed to %s API key", e.Op)
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() error {
	if e.Kind != nil {
		return e.Kind
	}
	return e.Err
}

// Is lets errors.Is match both the sentinel kind and the cause.
func (e *OpError) Is(target error) bool {
	return errors.Is(e.Kind, target) || errors.Is(e.Err, target)
}

// Wrap builds an OpError for the given operation.
func Wrap(op, id string, kind, cause error) *OpError {
	return &OpError{Op: op, ID: id, Kind: kind, Err: cause}
}

// StoreError wraps a backend-specific store failure with context.
type StoreError struct {
	Backend string // "file", "postgres", "aws", ...
	Op      string // "put", "get", "delete", ...
	Key     string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s store %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether an error looks transient enough to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
