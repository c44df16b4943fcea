// Package validation implements the provider-aware key validation
// engine: format rules, entropy analysis, live connectivity probes,
// batched validation, result caching and probe rate limiting.
package validation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/keyhaven/keyhaven/internal/logging"
	"github.com/keyhaven/keyhaven/internal/rules"
)

// Defaults for the engine's shared state. The caches and the limiter
// ledger are process-wide mutable state owned by one Engine instance,
// constructed once and passed by reference.
const (
	DefaultFormatCacheTTL      = 5 * time.Minute
	DefaultFormatCacheCapacity = 1000
	DefaultLiveCacheTTL        = 15 * time.Minute
	DefaultLiveCacheCapacity   = 500
	DefaultProbeLimit          = 10
	DefaultProbeWindow         = 60 * time.Second
	DefaultProbeTimeout        = 10 * time.Second
	defaultLimiterMaxKeys      = 2000
)

// Config tunes the engine. Zero values fall back to the defaults above.
type Config struct {
	FormatCacheTTL      time.Duration
	FormatCacheCapacity int
	LiveCacheTTL        time.Duration
	LiveCacheCapacity   int
	ProbeLimit          int
	ProbeWindow         time.Duration
	ProbeTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.FormatCacheTTL <= 0 {
		c.FormatCacheTTL = DefaultFormatCacheTTL
	}
	if c.FormatCacheCapacity <= 0 {
		c.FormatCacheCapacity = DefaultFormatCacheCapacity
	}
	if c.LiveCacheTTL <= 0 {
		c.LiveCacheTTL = DefaultLiveCacheTTL
	}
	if c.LiveCacheCapacity <= 0 {
		c.LiveCacheCapacity = DefaultLiveCacheCapacity
	}
	if c.ProbeLimit <= 0 {
		c.ProbeLimit = DefaultProbeLimit
	}
	if c.ProbeWindow <= 0 {
		c.ProbeWindow = DefaultProbeWindow
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// Engine validates API keys. Safe for concurrent use.
type Engine struct {
	logger              *logging.Logger
	client              HTTPClient
	formatCache         *ttlCache[Result]
	liveCache           *ttlCache[LiveResult]
	limiter             *rateLimiter
	limiterWindow       time.Duration
	defaultProbeTimeout time.Duration
	metrics             *engineMetrics
	clock               func() time.Time
}

// NewEngine creates a validation engine with its own caches and probe
// budget ledger.
func NewEngine(cfg Config, logger *logging.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		logger:              logger,
		client:              &http.Client{Timeout: cfg.ProbeTimeout},
		formatCache:         newTTLCache[Result](cfg.FormatCacheCapacity, cfg.FormatCacheTTL),
		liveCache:           newTTLCache[LiveResult](cfg.LiveCacheCapacity, cfg.LiveCacheTTL),
		limiter:             newRateLimiter(cfg.ProbeLimit, cfg.ProbeWindow, defaultLimiterMaxKeys),
		limiterWindow:       cfg.ProbeWindow,
		defaultProbeTimeout: cfg.ProbeTimeout,
		metrics:             newEngineMetrics(),
		clock:               time.Now,
	}
}

// SetClient replaces the probe transport, used in tests.
func (e *Engine) SetClient(client HTTPClient) {
	e.client = client
}

// ClearCaches drops all memoized validation results.
func (e *Engine) ClearCaches() {
	e.formatCache.Clear()
	e.liveCache.Clear()
	e.limiter.Reset()
}

// Options selects which phases ValidateComprehensive runs beyond the
// mandatory format check.
type Options struct {
	CheckEntropy bool
	CheckLive    bool
	Recommend    bool
	LiveTimeout  time.Duration
}

// PhaseTimings records per-phase elapsed time.
type PhaseTimings struct {
	Format  time.Duration `json:"format"`
	Entropy time.Duration `json:"entropy,omitempty"`
	Live    time.Duration `json:"live,omitempty"`
	Total   time.Duration `json:"total"`
}

// Extended is the aggregate result of a comprehensive validation.
type Extended struct {
	Result
	Entropy         *EntropyReport `json:"entropy,omitempty"`
	Live            *LiveResult    `json:"live,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Timings         PhaseTimings   `json:"timings"`
}

// ValidateComprehensive orchestrates format validation, optional
// entropy analysis, optional live probing (only when the format passed)
// and recommendation generation. An unknown provider tag or an empty key
// short-circuits to a failure without invoking any sub-validator.
func (e *Engine) ValidateComprehensive(ctx context.Context, rawKey string, provider rules.Provider, opts Options) Extended {
	start := e.clock()
	ext := Extended{Result: Result{Provider: provider}}

	if !rules.IsKnown(provider) {
		ext.Errors = append(ext.Errors, fmt.Sprintf("unknown provider %q", provider))
		ext.Timings.Total = e.clock().Sub(start)
		return ext
	}
	if sanitizeKey(rawKey) == "" {
		ext.Errors = append(ext.Errors, "key is empty")
		ext.Timings.Total = e.clock().Sub(start)
		return ext
	}

	formatStart := e.clock()
	ext.Result = e.ValidateFormat(rawKey, provider)
	ext.Timings.Format = e.clock().Sub(formatStart)

	if opts.CheckEntropy {
		entropyStart := e.clock()
		report := analyzeEntropy(sanitizeKey(rawKey))
		ext.Entropy = &report
		ext.Timings.Entropy = e.clock().Sub(entropyStart)
		for _, finding := range report.Findings {
			ext.Warnings = append(ext.Warnings, "weak key: "+finding)
		}
	}

	if opts.CheckLive && ext.Valid {
		liveStart := e.clock()
		live := e.ValidateLive(ctx, rawKey, provider, opts.LiveTimeout)
		ext.Live = &live
		ext.Timings.Live = e.clock().Sub(liveStart)
		if !live.Valid && live.ErrorCode != LiveErrUnsupported {
			ext.Valid = false
			ext.Errors = append(ext.Errors, "live validation failed: "+live.Message)
		}
	}

	if opts.Recommend {
		ext.Recommendations = e.recommend(ext)
	}

	ext.Timings.Total = e.clock().Sub(start)
	return ext
}

func (e *Engine) recommend(ext Extended) []string {
	var recs []string
	if !ext.Valid {
		recs = append(recs, "verify the key was copied completely, without truncation")
	}
	if ext.Entropy != nil && ext.Entropy.Weak {
		recs = append(recs, "this looks like a test or low-entropy key; use a freshly issued production key")
	}
	if ext.Live != nil && ext.Live.ErrorCode == LiveErrRejected {
		recs = append(recs, "the provider rejected this key; it may be revoked or lack permissions")
	}
	if ext.Live != nil && ext.Live.ErrorCode == LiveErrRateLimited {
		recs = append(recs, "probe budget exhausted; wait before re-validating this key")
	}
	if len(ext.Warnings) > 0 && ext.Valid && len(recs) == 0 {
		recs = append(recs, "the key is valid but has warnings worth reviewing")
	}
	return recs
}

// BatchEntry is one key to validate in a batch.
type BatchEntry struct {
	Key      string
	Provider rules.Provider
}

// BatchOptions tunes batch validation.
type BatchOptions struct {
	Options

	// BatchSize is the number of entries validated per batch.
	BatchSize int
	// Concurrency bounds in-flight validations within one batch.
	Concurrency int
	// Delay is inserted between batches to avoid bursting providers.
	Delay time.Duration
	// FailFast stops scheduling further batches once a batch produced a
	// failure. Entries never scheduled report an aborted failure.
	FailFast bool
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// BatchValidate validates entries in fixed-size batches with bounded
// concurrency. Output order always matches input order. A panic inside
// one entry's validation is converted into a failure result for that
// entry only.
func (e *Engine) BatchValidate(ctx context.Context, entries []BatchEntry, opts BatchOptions) []Extended {
	opts = opts.withDefaults()
	results := make([]Extended, len(entries))

	for batchStart := 0; batchStart < len(entries); batchStart += opts.BatchSize {
		batchEnd := batchStart + opts.BatchSize
		if batchEnd > len(entries) {
			batchEnd = len(entries)
		}

		var wg sync.WaitGroup
		sem := make(chan struct{}, opts.Concurrency)
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(idx int, entry BatchEntry) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				results[idx] = e.validateEntry(ctx, entry, opts.Options)
			}(i, entries[i])
		}
		wg.Wait()

		if opts.FailFast && batchHasFailure(results[batchStart:batchEnd]) {
			for i := batchEnd; i < len(entries); i++ {
				results[i] = Extended{Result: Result{
					Provider: entries[i].Provider,
					Errors:   []string{"batch aborted after earlier failure"},
				}}
			}
			return results
		}

		if batchEnd < len(entries) && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				for i := batchEnd; i < len(entries); i++ {
					results[i] = Extended{Result: Result{
						Provider: entries[i].Provider,
						Errors:   []string{"batch canceled"},
					}}
				}
				return results
			case <-time.After(opts.Delay):
			}
		}
	}

	return results
}

// validateEntry wraps one comprehensive validation with panic recovery
// so a single bad entry never aborts its batch.
func (e *Engine) validateEntry(ctx context.Context, entry BatchEntry, opts Options) (ext Extended) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validation panicked for a %s key: %v", entry.Provider, r)
			ext = Extended{Result: Result{
				Provider: entry.Provider,
				Errors:   []string{fmt.Sprintf("internal validation error: %v", r)},
			}}
		}
	}()
	return e.ValidateComprehensive(ctx, entry.Key, entry.Provider, opts)
}

func batchHasFailure(batch []Extended) bool {
	for _, r := range batch {
		if !r.Valid {
			return true
		}
	}
	return false
}
