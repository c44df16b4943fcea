package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

// GCPSecretManagerAPI is the Secret Manager surface the blob store
// uses, narrowed for mocking.
type GCPSecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest, opts ...gax.CallOption) error
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
}

// GCPBlobStore keeps encrypted payload blobs in GCP Secret Manager,
// one secret per blob key. Values are already encrypted by the vault.
type GCPBlobStore struct {
	client  GCPSecretManagerAPI
	project string
	prefix  string
}

// GCPBlobConfig configures the GCP-backed blob store.
type GCPBlobConfig struct {
	ProjectID string
	Prefix    string
	// ServiceAccountKeyPath points at a credentials JSON file; the
	// default application credentials are used when empty.
	ServiceAccountKeyPath string
	// Endpoint overrides the API endpoint for emulators and tests.
	Endpoint string
}

// GCPBlobOption customizes construction.
type GCPBlobOption func(*GCPBlobStore)

// WithGCPSecretManagerClient injects a client, used in tests.
func WithGCPSecretManagerClient(client GCPSecretManagerAPI) GCPBlobOption {
	return func(s *GCPBlobStore) { s.client = client }
}

// NewGCPBlobStore builds a Secret Manager backed blob store.
func NewGCPBlobStore(ctx context.Context, cfg GCPBlobConfig, opts ...GCPBlobOption) (*GCPBlobStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("gcp blob store: project ID is required")
	}

	s := &GCPBlobStore{project: cfg.ProjectID, prefix: cfg.Prefix}
	if s.prefix == "" {
		s.prefix = "keyhaven-"
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var clientOpts []option.ClientOption
		if cfg.ServiceAccountKeyPath != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.ServiceAccountKeyPath))
		}
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
		}
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, &kherrors.StoreError{Backend: "gcp", Op: "open", Err: err}
		}
		s.client = client
	}
	return s, nil
}

// secretID maps a blob key onto a Secret Manager resource name. Secret
// IDs only allow [A-Za-z0-9_-], so anything else becomes an underscore.
func (s *GCPBlobStore) secretID(key string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return s.prefix + mapped
}

func (s *GCPBlobStore) secretName(key string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.project, s.secretID(key))
}

func isGRPCCode(err error, code codes.Code) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == code
}

func (s *GCPBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretName(key) + "/versions/latest",
	})
	if err != nil {
		if isGRPCCode(err, codes.NotFound) {
			return nil, fmt.Errorf("%w: blob %s", kherrors.ErrNotFound, key)
		}
		return nil, &kherrors.StoreError{Backend: "gcp", Op: "get", Key: key, Err: err}
	}
	return resp.GetPayload().GetData(), nil
}

func (s *GCPBlobStore) Set(ctx context.Context, key string, value []byte) error {
	parent := s.secretName(key)

	_, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   fmt.Sprintf("projects/%s", s.project),
		SecretId: s.secretID(key),
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && !isGRPCCode(err, codes.AlreadyExists) {
		return &kherrors.StoreError{Backend: "gcp", Op: "set", Key: key, Err: err}
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  parent,
		Payload: &secretmanagerpb.SecretPayload{Data: value},
	})
	if err != nil {
		return &kherrors.StoreError{Backend: "gcp", Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *GCPBlobStore) Remove(ctx context.Context, key string) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: s.secretName(key),
	})
	if err != nil {
		if isGRPCCode(err, codes.NotFound) {
			return nil
		}
		return &kherrors.StoreError{Backend: "gcp", Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *GCPBlobStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kherrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func (s *GCPBlobStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Ping probes a sentinel secret. NotFound means the API is reachable
// and credentials work, which is all the health check needs.
func (s *GCPBlobStore) Ping(ctx context.Context) error {
	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{
		Name: s.secretName("ping"),
	})
	if err != nil && !isGRPCCode(err, codes.NotFound) {
		return &kherrors.StoreError{Backend: "gcp", Op: "ping", Err: err}
	}
	return nil
}
