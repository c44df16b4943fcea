package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyhaven/keyhaven/internal/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyhaven.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	file, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if file.Index.Backend != "file" || file.Blobs.Backend != "file" {
		t.Errorf("defaults = %q/%q, want file/file", file.Index.Backend, file.Blobs.Backend)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
dataDir: /var/lib/keyhaven
index:
  backend: sql
  driver: postgres
  dsn: postgres://localhost/keyhaven
blobs:
  backend: aws
  aws:
    region: eu-west-1
    prefix: team/
validation:
  probeLimit: 5
  probeWindow: 30s
session:
  ttl: 5m
  useKeyring: true
`)
	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if file.Index.Driver != "postgres" {
		t.Errorf("Driver = %q", file.Index.Driver)
	}
	if file.Blobs.AWS.Region != "eu-west-1" {
		t.Errorf("Region = %q", file.Blobs.AWS.Region)
	}
	if file.Session.TTL != 5*time.Minute {
		t.Errorf("TTL = %v", file.Session.TTL)
	}
	if !file.Session.UseKeyring {
		t.Error("UseKeyring = false")
	}

	engineCfg := file.EngineConfig()
	if engineCfg.ProbeLimit != 5 || engineCfg.ProbeWindow != 30*time.Second {
		t.Errorf("EngineConfig = %+v", engineCfg)
	}
	if file.ResolveDataDir() != "/var/lib/keyhaven" {
		t.Errorf("ResolveDataDir = %q", file.ResolveDataDir())
	}
}

func TestValidateRejectsBadBackends(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown index backend", "index:\n  backend: redis\nblobs:\n  backend: file\n"},
		{"sql without driver", "index:\n  backend: sql\n  dsn: x\nblobs:\n  backend: file\n"},
		{"sql without dsn", "index:\n  backend: sql\n  driver: postgres\nblobs:\n  backend: file\n"},
		{"unknown blob backend", "index:\n  backend: file\nblobs:\n  backend: azure\n"},
		{"gcp without project", "index:\n  backend: file\nblobs:\n  backend: gcp\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("Load accepted an invalid config")
			}
		})
	}
}

func TestBuildStoresMemoryBackends(t *testing.T) {
	file := &File{
		Version: 1,
		Index:   IndexConfig{Backend: "memory"},
		Blobs:   BlobConfig{Backend: "memory"},
	}
	ctx := context.Background()

	index, err := file.BuildIndexStore(ctx)
	if err != nil {
		t.Fatalf("BuildIndexStore: %v", err)
	}
	if _, ok := index.(*store.MemoryIndexStore); !ok {
		t.Errorf("index = %T", index)
	}

	blobs, err := file.BuildBlobStore(ctx)
	if err != nil {
		t.Fatalf("BuildBlobStore: %v", err)
	}
	if _, ok := blobs.(*store.MemoryBlobStore); !ok {
		t.Errorf("blobs = %T", blobs)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "keyhaven.yaml")

	file := Default()
	file.Session.TTL = 10 * time.Minute
	if err := file.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config perm = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Session.TTL != 10*time.Minute {
		t.Errorf("TTL = %v", loaded.Session.TTL)
	}
}
