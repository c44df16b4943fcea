// Package config loads the keyhaven.yaml runtime configuration: which
// storage backends to use, validation engine tuning, and session
// behavior.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/store"
	"github.com/keyhaven/keyhaven/internal/validation"
)

// File is the keyhaven.yaml structure.
type File struct {
	Version    int              `yaml:"version"`
	DataDir    string           `yaml:"dataDir,omitempty"`
	Index      IndexConfig      `yaml:"index"`
	Blobs      BlobConfig       `yaml:"blobs"`
	Validation ValidationConfig `yaml:"validation,omitempty"`
	Session    SessionConfig    `yaml:"session,omitempty"`
	Debug      bool             `yaml:"debug,omitempty"`
}

// IndexConfig selects the metadata index backend.
type IndexConfig struct {
	// Backend is one of memory, file, sql.
	Backend string `yaml:"backend"`
	// Driver is postgres or mysql when Backend is sql.
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// BlobConfig selects the encrypted payload backend.
type BlobConfig struct {
	// Backend is one of memory, file, aws, gcp.
	Backend string `yaml:"backend"`

	AWS AWSConfig `yaml:"aws,omitempty"`
	GCP GCPConfig `yaml:"gcp,omitempty"`
}

// AWSConfig configures the Secrets Manager blob backend.
type AWSConfig struct {
	Region          string `yaml:"region,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty"`
}

// GCPConfig configures the Secret Manager blob backend.
type GCPConfig struct {
	ProjectID             string `yaml:"projectId,omitempty"`
	Prefix                string `yaml:"prefix,omitempty"`
	ServiceAccountKeyPath string `yaml:"serviceAccountKeyPath,omitempty"`
	Endpoint              string `yaml:"endpoint,omitempty"`
}

// ValidationConfig tunes the validation engine. Zero values use the
// engine defaults.
type ValidationConfig struct {
	FormatCacheTTL      time.Duration `yaml:"formatCacheTtl,omitempty"`
	FormatCacheCapacity int           `yaml:"formatCacheCapacity,omitempty"`
	LiveCacheTTL        time.Duration `yaml:"liveCacheTtl,omitempty"`
	LiveCacheCapacity   int           `yaml:"liveCacheCapacity,omitempty"`
	ProbeLimit          int           `yaml:"probeLimit,omitempty"`
	ProbeWindow         time.Duration `yaml:"probeWindow,omitempty"`
	ProbeTimeout        time.Duration `yaml:"probeTimeout,omitempty"`
}

// SessionConfig controls vault locking behavior.
type SessionConfig struct {
	// TTL is the sliding inactivity window before the vault locks.
	// Zero uses the default; a negative value disables auto-lock.
	TTL time.Duration `yaml:"ttl,omitempty"`
	// UseKeyring stores the passphrase in the OS keyring on init so
	// later commands unlock without prompting.
	UseKeyring bool `yaml:"useKeyring,omitempty"`
}

// DefaultPath resolves the config file location: $KEYHAVEN_CONFIG, then
// keyhaven.yaml under the data dir.
func DefaultPath() string {
	if path := os.Getenv("KEYHAVEN_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(store.DefaultDataDir(), "keyhaven.yaml")
}

// Default returns the configuration used when no file exists: file
// backends under the default data dir.
func Default() *File {
	return &File{
		Version: 1,
		Index:   IndexConfig{Backend: "file"},
		Blobs:   BlobConfig{Backend: "file"},
	}
}

// Load reads and validates a config file. A missing file is not an
// error; the defaults are returned so first runs work without setup.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if file.Version == 0 {
		file.Version = 1
	}
	if file.Index.Backend == "" {
		file.Index.Backend = "file"
	}
	if file.Blobs.Backend == "" {
		file.Blobs.Backend = "file"
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks backend selections before anything is constructed.
func (f *File) Validate() error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported config version %d", f.Version)
	}

	switch f.Index.Backend {
	case "memory", "file":
	case "sql":
		if f.Index.Driver != "postgres" && f.Index.Driver != "mysql" {
			return fmt.Errorf("index backend sql requires driver postgres or mysql, got %q", f.Index.Driver)
		}
		if f.Index.DSN == "" {
			return fmt.Errorf("index backend sql requires a dsn")
		}
	default:
		return fmt.Errorf("unknown index backend %q", f.Index.Backend)
	}

	switch f.Blobs.Backend {
	case "memory", "file", "aws":
	case "gcp":
		if f.GCPProjectID() == "" {
			return fmt.Errorf("blob backend gcp requires gcp.projectId")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", f.Blobs.Backend)
	}
	return nil
}

// GCPProjectID returns the configured project, falling back to the
// standard environment variable.
func (f *File) GCPProjectID() string {
	if f.Blobs.GCP.ProjectID != "" {
		return f.Blobs.GCP.ProjectID
	}
	return os.Getenv("GOOGLE_CLOUD_PROJECT")
}

// ResolveDataDir returns the directory file backends live under.
func (f *File) ResolveDataDir() string {
	if f.DataDir != "" {
		return f.DataDir
	}
	return store.DefaultDataDir()
}

// EngineConfig maps the validation tuning onto the engine's config.
func (f *File) EngineConfig() validation.Config {
	return validation.Config{
		FormatCacheTTL:      f.Validation.FormatCacheTTL,
		FormatCacheCapacity: f.Validation.FormatCacheCapacity,
		LiveCacheTTL:        f.Validation.LiveCacheTTL,
		LiveCacheCapacity:   f.Validation.LiveCacheCapacity,
		ProbeLimit:          f.Validation.ProbeLimit,
		ProbeWindow:         f.Validation.ProbeWindow,
		ProbeTimeout:        f.Validation.ProbeTimeout,
	}
}

// BuildIndexStore constructs the configured index backend.
func (f *File) BuildIndexStore(ctx context.Context) (store.IndexStore, error) {
	switch f.Index.Backend {
	case "memory":
		return store.NewMemoryIndexStore(), nil
	case "file":
		return store.NewFileIndexStore(f.ResolveDataDir()), nil
	case "sql":
		return store.OpenSQLIndexStore(ctx, f.Index.Driver, f.Index.DSN)
	default:
		return nil, fmt.Errorf("unknown index backend %q", f.Index.Backend)
	}
}

// BuildBlobStore constructs the configured blob backend.
func (f *File) BuildBlobStore(ctx context.Context) (store.BlobStore, error) {
	switch f.Blobs.Backend {
	case "memory":
		return store.NewMemoryBlobStore(), nil
	case "file":
		return store.NewFileBlobStore(f.ResolveDataDir()), nil
	case "aws":
		return store.NewAWSBlobStore(ctx, store.AWSBlobConfig{
			Region:          f.Blobs.AWS.Region,
			Prefix:          f.Blobs.AWS.Prefix,
			Endpoint:        f.Blobs.AWS.Endpoint,
			AccessKeyID:     f.Blobs.AWS.AccessKeyID,
			SecretAccessKey: f.Blobs.AWS.SecretAccessKey,
		})
	case "gcp":
		return store.NewGCPBlobStore(ctx, store.GCPBlobConfig{
			ProjectID:             f.GCPProjectID(),
			Prefix:                f.Blobs.GCP.Prefix,
			ServiceAccountKeyPath: f.Blobs.GCP.ServiceAccountKeyPath,
			Endpoint:              f.Blobs.GCP.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", f.Blobs.Backend)
	}
}

// Save writes the config file with restrictive permissions.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &kherrors.StoreError{Backend: "file", Op: "save config", Err: err}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return &kherrors.StoreError{Backend: "file", Op: "save config", Err: err}
	}
	return nil
}
