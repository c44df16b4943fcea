package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

// SecretsManagerAPI is the AWS Secrets Manager surface the blob store
// uses, narrowed for mocking.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSBlobStore keeps encrypted payload blobs in AWS Secrets Manager,
// one secret per blob key under a configurable name prefix. Values are
// stored as SecretBinary; they are already encrypted by the vault, AWS
// only adds its own layer.
type AWSBlobStore struct {
	client SecretsManagerAPI
	prefix string
}

// AWSBlobConfig configures the AWS-backed blob store.
type AWSBlobConfig struct {
	Region string
	Prefix string
	// Endpoint overrides the API endpoint for LocalStack and tests.
	Endpoint string
	// Static credentials for LocalStack and tests; the default chain is
	// used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// AWSBlobOption customizes construction.
type AWSBlobOption func(*AWSBlobStore)

// WithSecretsManagerClient injects a client, used in tests.
func WithSecretsManagerClient(client SecretsManagerAPI) AWSBlobOption {
	return func(s *AWSBlobStore) { s.client = client }
}

// NewAWSBlobStore builds a Secrets Manager backed blob store.
func NewAWSBlobStore(ctx context.Context, cfg AWSBlobConfig, opts ...AWSBlobOption) (*AWSBlobStore, error) {
	s := &AWSBlobStore{prefix: cfg.Prefix}
	if s.prefix == "" {
		s.prefix = "keyhaven/"
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, &kherrors.StoreError{Backend: "aws", Op: "open", Err: err}
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}
	return s, nil
}

func (s *AWSBlobStore) secretName(key string) string {
	return s.prefix + key
}

func (s *AWSBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName(key)),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: blob %s", kherrors.ErrNotFound, key)
		}
		return nil, &kherrors.StoreError{Backend: "aws", Op: "get", Key: key, Err: err}
	}
	if out.SecretBinary != nil {
		return out.SecretBinary, nil
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return nil, &kherrors.StoreError{Backend: "aws", Op: "get", Key: key, Err: fmt.Errorf("secret has no value")}
}

func (s *AWSBlobStore) Set(ctx context.Context, key string, value []byte) error {
	name := s.secretName(key)
	_, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretBinary: value,
	})
	if err == nil {
		return nil
	}

	var exists *types.ResourceExistsException
	if errors.As(err, &exists) {
		_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(name),
			SecretBinary: value,
		})
	}
	if err != nil {
		return &kherrors.StoreError{Backend: "aws", Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *AWSBlobStore) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(s.secretName(key)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return &kherrors.StoreError{Backend: "aws", Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *AWSBlobStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
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

func (s *AWSBlobStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *AWSBlobStore) Ping(ctx context.Context) error {
	_, err := s.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return &kherrors.StoreError{Backend: "aws", Op: "ping", Err: err}
	}
	return nil
}
