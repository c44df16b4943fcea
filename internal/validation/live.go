package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/rules"
)

// Live validation error codes. They distinguish why a probe failed
// without forcing callers to parse messages.
const (
	LiveErrTimeout     = "timeout"
	LiveErrNetwork     = "network"
	LiveErrAborted     = "aborted"
	LiveErrRateLimited = "rate_limited"
	LiveErrUnsupported = "unsupported"
	LiveErrRejected    = "rejected"
)

// HTTPClient is the transport used for live probes. *http.Client
// satisfies it; tests inject their own.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// LiveResult is the outcome of one live connectivity probe.
type LiveResult struct {
	Valid      bool           `json:"valid"`
	Provider   rules.Provider `json:"provider"`
	StatusCode int            `json:"statusCode,omitempty"`
	ErrorCode  string         `json:"errorCode,omitempty"`
	Message    string         `json:"message,omitempty"`
	Latency    time.Duration  `json:"latency"`
	CheckedAt  time.Time      `json:"checkedAt"`
	Cached     bool           `json:"cached,omitempty"`
}

// Err maps a failed probe onto the shared error taxonomy so callers can
// classify it with errors.Is or kherrors.IsRetryable. Nil for valid
// results.
func (r LiveResult) Err() error {
	if r.Valid {
		return nil
	}
	switch r.ErrorCode {
	case LiveErrTimeout:
		return fmt.Errorf("%w: %s", kherrors.ErrTimeout, r.Message)
	case LiveErrNetwork:
		return fmt.Errorf("%w: %s", kherrors.ErrNetwork, r.Message)
	case LiveErrAborted:
		return fmt.Errorf("%w: %s", kherrors.ErrAborted, r.Message)
	case LiveErrRateLimited:
		return fmt.Errorf("%w: %s", kherrors.ErrRateLimited, r.Message)
	default:
		return errors.New(r.Message)
	}
}

// ValidateLive issues a bounded-time GET against the provider's probe
// endpoint with provider-specific auth headers. HTTP 2xx means the key
// is accepted. Successful results are cached; failures never are, so a
// retried probe always goes back out. Custom providers have no canonical
// endpoint and report unsupported without a request.
func (e *Engine) ValidateLive(ctx context.Context, rawKey string, provider rules.Provider, timeout time.Duration) LiveResult {
	key := sanitizeKey(rawKey)
	now := e.clock()
	rule := rules.Lookup(provider)

	if rule.ProbeURL == "" {
		return LiveResult{
			Provider:  provider,
			ErrorCode: LiveErrUnsupported,
			Message:   "live validation is not supported for custom providers",
			CheckedAt: now,
		}
	}

	cacheKey := formatCacheKey(provider, key)
	if cached, ok := e.liveCache.Get(cacheKey); ok {
		cached.Cached = true
		e.metrics.recordProbe(string(provider), "cached")
		return cached
	}

	// One rolling-window budget per (provider, key hash). A denied probe
	// fails fast without a network call.
	if !e.limiter.Allow(cacheKey) {
		e.metrics.recordProbe(string(provider), "rate_limited")
		return LiveResult{
			Provider:  provider,
			ErrorCode: LiveErrRateLimited,
			Message:   fmt.Sprintf("probe budget exhausted, retry within %s", e.limiterWindow),
			CheckedAt: now,
		}
	}

	if timeout <= 0 {
		timeout = e.defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := e.probe(probeCtx, key, provider, rule)
	result.CheckedAt = now
	result.Latency = e.clock().Sub(now)

	if result.Valid {
		e.liveCache.Put(cacheKey, result)
		e.metrics.recordProbe(string(provider), "valid")
	} else {
		e.metrics.recordProbe(string(provider), result.ErrorCode)
	}
	return result
}

func (e *Engine) probe(ctx context.Context, key string, provider rules.Provider, rule rules.Rule) LiveResult {
	result := LiveResult{Provider: provider}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rule.ProbeURL, nil)
	if err != nil {
		result.ErrorCode = LiveErrNetwork
		result.Message = fmt.Sprintf("building probe request: %v", err)
		return result
	}

	if rule.AuthHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+key)
	} else {
		req.Header.Set(rule.AuthHeader, key)
	}
	for name, value := range rule.ExtraHeaders {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.ErrorCode = LiveErrTimeout
			result.Message = "probe timed out"
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			result.ErrorCode = LiveErrAborted
			result.Message = "probe aborted"
		default:
			result.ErrorCode = LiveErrNetwork
			result.Message = fmt.Sprintf("probe failed: %v", err)
		}
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Valid = true
		result.Message = "key accepted by provider"
		return result
	}

	result.ErrorCode = LiveErrRejected
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		result.Message = "provider rejected the key"
	case http.StatusTooManyRequests:
		result.Message = "provider throttled the probe"
	default:
		result.Message = fmt.Sprintf("unexpected status %d from provider", resp.StatusCode)
	}
	return result
}
