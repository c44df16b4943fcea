package vault

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/keyhaven/keyhaven/internal/crypto"
	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/logging"
	"github.com/keyhaven/keyhaven/internal/rules"
	"github.com/keyhaven/keyhaven/internal/store"
	"github.com/keyhaven/keyhaven/internal/validation"
)

const (
	testPassphrase = "correct horse battery staple"
	openaiKey      = "sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	openaiKeyAlt   = "sk-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	manager *Manager
	index   *store.MemoryIndexStore
	blobs   *store.MemoryBlobStore
	engine  *validation.Engine
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPassphrase(t, testPassphrase)
}

func newTestEnvWithPassphrase(t *testing.T, passphrase string) *testEnv {
	t.Helper()

	logger := logging.NewWithWriter(io.Discard, false, true)
	clock := &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	index := store.NewMemoryIndexStore()
	blobs := store.NewMemoryBlobStore()
	engine := validation.NewEngine(validation.Config{}, logger)

	manager := NewManager(Config{
		Index:  index,
		Blobs:  blobs,
		Engine: engine,
		Logger: logger,
		Clock:  clock.Now,
	})
	if err := manager.Initialize(context.Background(), []byte(passphrase)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return &testEnv{manager: manager, index: index, blobs: blobs, engine: engine, clock: clock}
}

func (e *testEnv) addKey(t *testing.T, rawKey string, provider rules.Provider, name string) *keys.Encrypted {
	t.Helper()
	record, err := e.manager.AddKey(context.Background(), AddKeyInput{
		Key:      rawKey,
		Provider: provider,
		Name:     name,
	})
	if err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	return record
}

func revealString(t *testing.T, m *Manager, id string) string {
	t.Helper()
	buf, err := m.RevealKey(context.Background(), id)
	if err != nil {
		t.Fatalf("RevealKey: %v", err)
	}
	defer buf.Destroy()

	var out string
	if err := buf.With(func(data []byte) error {
		out = string(data)
		return nil
	}); err != nil {
		t.Fatalf("Buffer.With: %v", err)
	}
	return out
}

func TestAddAndGetKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod key")

	got, err := env.manager.GetKey(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.Metadata.Name != "prod key" {
		t.Errorf("Name = %q", got.Metadata.Name)
	}
	if got.Metadata.Provider != rules.ProviderOpenAI {
		t.Errorf("Provider = %q", got.Metadata.Provider)
	}
	if got.Metadata.Status != keys.StatusActive {
		t.Errorf("Status = %q", got.Metadata.Status)
	}
	if got.Metadata.MaskedKey != keys.Mask(openaiKey) {
		t.Errorf("MaskedKey = %q", got.Metadata.MaskedKey)
	}
	if got.KeyHash != keys.HashKey(openaiKey) {
		t.Errorf("KeyHash = %q", got.KeyHash)
	}

	if plain := revealString(t, env.manager, record.ID); plain != openaiKey {
		t.Errorf("revealed key does not match stored key")
	}
}

func TestAddKeySanitizesWhitespace(t *testing.T) {
	env := newTestEnv(t)

	record := env.addKey(t, "  "+openaiKey+" \n", rules.ProviderOpenAI, "spaced")
	if plain := revealString(t, env.manager, record.ID); plain != openaiKey {
		t.Errorf("stored key retained whitespace")
	}
}

func TestAddKeyPlaintextNeverPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	docs, err := env.index.GetAll(ctx, "api_keys")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	for _, doc := range docs {
		if strings.Contains(string(doc), openaiKey) {
			t.Fatal("index document contains the raw key")
		}
	}
	blob, err := env.blobs.Get(ctx, blobKey(record.ID))
	if err != nil {
		t.Fatalf("blob Get: %v", err)
	}
	if strings.Contains(string(blob), openaiKey) {
		t.Fatal("blob contains the raw key")
	}
}

func TestAddKeyInvalidFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.AddKey(ctx, AddKeyInput{Key: "sk-123", Provider: rules.ProviderOpenAI, Name: "bad"})
	if !errors.Is(err, kherrors.ErrInvalidFormat) {
		t.Fatalf("AddKey = %v, want ErrInvalidFormat", err)
	}

	result, err := env.manager.ListKeys(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("rejected add left %d records behind", result.Total)
	}
}

func TestAddDuplicateKeyAcrossProviders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addKey(t, openaiKey, rules.ProviderOpenAI, "first")

	_, err := env.manager.AddKey(ctx, AddKeyInput{Key: openaiKey, Provider: rules.ProviderCustom, Name: "second"})
	if !errors.Is(err, kherrors.ErrDuplicateKey) {
		t.Errorf("duplicate AddKey = %v, want ErrDuplicateKey", err)
	}
}

func TestOperationsRequirePreconditions(t *testing.T) {
	logger := logging.NewWithWriter(io.Discard, false, true)
	manager := NewManager(Config{
		Index:  store.NewMemoryIndexStore(),
		Blobs:  store.NewMemoryBlobStore(),
		Engine: validation.NewEngine(validation.Config{}, logger),
		Logger: logger,
	})
	ctx := context.Background()

	_, err := manager.AddKey(ctx, AddKeyInput{Key: openaiKey, Provider: rules.ProviderOpenAI})
	if !errors.Is(err, kherrors.ErrNotInitialized) {
		t.Fatalf("AddKey before init = %v, want ErrNotInitialized", err)
	}

	if err := manager.Initialize(ctx, []byte(testPassphrase)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	manager.Lock()

	_, err = manager.AddKey(ctx, AddKeyInput{Key: openaiKey, Provider: rules.ProviderOpenAI})
	if !errors.Is(err, kherrors.ErrSessionExpired) {
		t.Errorf("AddKey while locked = %v, want ErrSessionExpired", err)
	}
}

func TestSessionExpiryLocksVault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	env.clock.Advance(defaultSessionTTL + time.Second)

	_, err := env.manager.GetKey(ctx, record.ID)
	if !errors.Is(err, kherrors.ErrSessionExpired) {
		t.Fatalf("GetKey after expiry = %v, want ErrSessionExpired", err)
	}
	if env.manager.State() != StateLocked {
		t.Errorf("State = %q, want locked", env.manager.State())
	}

	if err := env.manager.Unlock(ctx, []byte(testPassphrase)); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := env.manager.GetKey(ctx, record.ID); err != nil {
		t.Errorf("GetKey after unlock: %v", err)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Lock()
	err := env.manager.Unlock(ctx, []byte("not the passphrase"))
	if !errors.Is(err, kherrors.ErrWrongPassphrase) {
		t.Fatalf("Unlock = %v, want ErrWrongPassphrase", err)
	}
	if env.manager.State() != StateLocked {
		t.Errorf("State after failed unlock = %q, want locked", env.manager.State())
	}
}

func TestUpdateKeyNeverTouchesSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "before")
	blobBefore, err := env.blobs.Get(ctx, blobKey(record.ID))
	if err != nil {
		t.Fatalf("blob Get: %v", err)
	}

	name := "after"
	desc := "updated description"
	status := keys.StatusInactive
	meta, err := env.manager.UpdateKey(ctx, record.ID, UpdatePatch{
		Name:        &name,
		Description: &desc,
		Status:      &status,
		Tags:        []string{"team-a"},
	})
	if err != nil {
		t.Fatalf("UpdateKey: %v", err)
	}
	if meta.Name != "after" || meta.Description != "updated description" {
		t.Errorf("metadata not updated: %+v", meta)
	}
	if meta.Status != keys.StatusInactive {
		t.Errorf("Status = %q", meta.Status)
	}

	blobAfter, err := env.blobs.Get(ctx, blobKey(record.ID))
	if err != nil {
		t.Fatalf("blob Get: %v", err)
	}
	if string(blobBefore) != string(blobAfter) {
		t.Error("update modified the encrypted payload")
	}
}

func TestDeleteKeyHardAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	deleted, err := env.manager.DeleteKey(ctx, record.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteKey = (%v, %v), want (true, nil)", deleted, err)
	}

	deleted, err = env.manager.DeleteKey(ctx, record.ID)
	if err != nil || deleted {
		t.Errorf("second DeleteKey = (%v, %v), want (false, nil)", deleted, err)
	}

	if _, err := env.manager.GetKey(ctx, record.ID); !errors.Is(err, kherrors.ErrNotFound) {
		t.Errorf("GetKey after delete = %v, want ErrNotFound", err)
	}
	if _, err := env.blobs.Get(ctx, blobKey(record.ID)); !errors.Is(err, kherrors.ErrNotFound) {
		t.Errorf("blob survives delete: %v", err)
	}

	// The hash index entry must be released too.
	if _, err := env.manager.AddKey(ctx, AddKeyInput{Key: openaiKey, Provider: rules.ProviderOpenAI, Name: "again"}); err != nil {
		t.Errorf("re-adding a deleted key: %v", err)
	}
}

type failingBlobStore struct {
	store.BlobStore
	removeErr error
}

func (s *failingBlobStore) Remove(ctx context.Context, key string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.BlobStore.Remove(ctx, key)
}

func TestDeleteKeyRestoresStateWhenBlobRemoveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	failing := &failingBlobStore{BlobStore: env.blobs, removeErr: errors.New("disk full")}
	env.manager.blobs = failing

	if _, err := env.manager.DeleteKey(ctx, record.ID); err == nil {
		t.Fatal("DeleteKey succeeded despite blob removal failure")
	}

	// The record must still be fully usable, not half deleted.
	if _, err := env.manager.GetKey(ctx, record.ID); err != nil {
		t.Errorf("GetKey after failed delete: %v", err)
	}
	if plain := revealString(t, env.manager, record.ID); plain != openaiKey {
		t.Errorf("revealed key does not match stored key")
	}
	if _, err := env.manager.AddKey(ctx, AddKeyInput{Key: openaiKey, Provider: rules.ProviderOpenAI, Name: "dup"}); !errors.Is(err, kherrors.ErrDuplicateKey) {
		t.Errorf("duplicate add after failed delete = %v, want ErrDuplicateKey", err)
	}

	failing.removeErr = nil
	deleted, err := env.manager.DeleteKey(ctx, record.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteKey after recovery = (%v, %v), want (true, nil)", deleted, err)
	}
	if _, err := env.manager.AddKey(ctx, AddKeyInput{Key: openaiKey, Provider: rules.ProviderOpenAI, Name: "again"}); err != nil {
		t.Errorf("re-adding after recovered delete: %v", err)
	}
}

func TestRevokeKeySoft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	revoked, err := env.manager.RevokeKey(ctx, record.ID)
	if err != nil || !revoked {
		t.Fatalf("RevokeKey = (%v, %v), want (true, nil)", revoked, err)
	}

	got, err := env.manager.GetKey(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetKey after revoke: %v", err)
	}
	if got.Metadata.Status != keys.StatusRevoked {
		t.Errorf("Status = %q, want revoked", got.Metadata.Status)
	}

	revoked, err = env.manager.RevokeKey(ctx, "missing-id")
	if err != nil || revoked {
		t.Errorf("RevokeKey on absent id = (%v, %v), want (false, nil)", revoked, err)
	}
}

func TestGetKeyIntegrityCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	blob, err := env.blobs.Get(ctx, blobKey(record.ID))
	if err != nil {
		t.Fatalf("blob Get: %v", err)
	}
	var payload keys.EncryptedPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		t.Fatalf("unmarshal blob: %v", err)
	}
	payload.Cipher[0] ^= 0xff
	corrupted, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := env.blobs.Set(ctx, blobKey(record.ID), corrupted); err != nil {
		t.Fatalf("blob Set: %v", err)
	}

	_, err = env.manager.GetKey(ctx, record.ID)
	if !errors.Is(err, kherrors.ErrIntegrityCheckFailed) {
		t.Errorf("GetKey on corrupted blob = %v, want ErrIntegrityCheckFailed", err)
	}
	if errors.Is(err, kherrors.ErrNotFound) {
		t.Error("integrity failure must stay distinct from not-found")
	}
}

func TestListKeysFiltersAndPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addKey(t, openaiKey, rules.ProviderOpenAI, "openai production")
	env.clock.Advance(time.Second)
	env.addKey(t, openaiKeyAlt, rules.ProviderOpenAI, "openai staging")
	env.clock.Advance(time.Second)
	env.addKey(t, "AIza"+strings.Repeat("c", 35), rules.ProviderGoogle, "gemini key")

	all, err := env.manager.ListKeys(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if all.Total != 3 || all.HasMore {
		t.Errorf("ListKeys = total %d hasMore %v, want 3 false", all.Total, all.HasMore)
	}
	// Newest first.
	if all.Keys[0].Provider != rules.ProviderGoogle {
		t.Errorf("first listed provider = %q, want google", all.Keys[0].Provider)
	}

	openai, err := env.manager.ListKeys(ctx, ListOptions{Provider: rules.ProviderOpenAI})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if openai.Total != 2 {
		t.Errorf("provider filter total = %d, want 2", openai.Total)
	}

	search, err := env.manager.ListKeys(ctx, ListOptions{Search: "STAGING"})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if search.Total != 1 || search.Keys[0].Name != "openai staging" {
		t.Errorf("search result = %+v", search.Keys)
	}

	page, err := env.manager.ListKeys(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(page.Keys) != 2 || !page.HasMore || page.Total != 3 {
		t.Errorf("page = %d keys, hasMore %v, total %d", len(page.Keys), page.HasMore, page.Total)
	}
	rest, err := env.manager.ListKeys(ctx, ListOptions{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(rest.Keys) != 1 || rest.HasMore {
		t.Errorf("last page = %d keys, hasMore %v", len(rest.Keys), rest.HasMore)
	}
}

func TestListKeysReportsExpiredStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Expiry well inside the session TTL so advancing past it does not
	// also lock the vault.
	expiry := env.clock.Now().Add(time.Minute)
	_, err := env.manager.AddKey(ctx, AddKeyInput{
		Key:       openaiKey,
		Provider:  rules.ProviderOpenAI,
		Name:      "short lived",
		ExpiresAt: &expiry,
	})
	if err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	env.clock.Advance(2 * time.Minute)

	expired, err := env.manager.ListKeys(ctx, ListOptions{Status: keys.StatusExpired})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if expired.Total != 1 {
		t.Errorf("expired filter total = %d, want 1", expired.Total)
	}
}

func TestRecordUsageAccumulates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	samples := []keys.UsageSample{
		{Requests: 1, Success: true, InputTokens: 100, OutputTokens: 50, Cost: 0.02, Latency: 200 * time.Millisecond},
		{Requests: 1, Success: false, InputTokens: 10, OutputTokens: 0, Cost: 0.001, Latency: 400 * time.Millisecond},
	}
	for _, sample := range samples {
		if err := env.manager.RecordUsage(ctx, record.ID, sample); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	stats, err := env.manager.GetKeyUsageStats(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetKeyUsageStats: %v", err)
	}
	if stats.TotalRequests != 2 || stats.SuccessfulRequests != 1 || stats.FailedRequests != 1 {
		t.Errorf("request counters = %d/%d/%d", stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)
	}
	if stats.TotalTokens != 160 {
		t.Errorf("TotalTokens = %d, want 160", stats.TotalTokens)
	}

	got, err := env.manager.GetKey(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if !got.Metadata.LastUsed.Equal(env.clock.Now()) {
		t.Errorf("LastUsed = %v, want %v", got.Metadata.LastUsed, env.clock.Now())
	}
}

type recordingClient struct {
	status   int
	requests []*http.Request
}

func (c *recordingClient) Do(req *http.Request) (*http.Response, error) {
	c.requests = append(c.requests, req)
	return &http.Response{
		StatusCode: c.status,
		Status:     http.StatusText(c.status),
		Body:       http.NoBody,
	}, nil
}

func TestTestKeyConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client := &recordingClient{status: http.StatusOK}
	env.engine.SetClient(client)

	record := env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")

	result, err := env.manager.TestKeyConnection(ctx, record.ID)
	if err != nil {
		t.Fatalf("TestKeyConnection: %v", err)
	}
	if !result.Valid {
		t.Errorf("result = %+v, want valid", result)
	}
	if len(client.requests) != 1 {
		t.Fatalf("probe made %d requests, want 1", len(client.requests))
	}
	if got := client.requests[0].Header.Get("Authorization"); got != "Bearer "+openaiKey {
		t.Errorf("probe used wrong credential header: %q", got)
	}
}

type failingCrypto struct {
	crypto.Service
}

func (failingCrypto) Encrypt([]byte) (keys.EncryptedPayload, error) {
	return keys.EncryptedPayload{}, errors.New("hardware token unplugged")
}

func TestShutdownLocksAndClearsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addKey(t, openaiKey, rules.ProviderOpenAI, "prod")
	if err := env.manager.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if env.manager.State() != StateLocked {
		t.Errorf("State after shutdown = %q, want locked", env.manager.State())
	}
}
