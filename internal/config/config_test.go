package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"archive/api/internal/upload"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadDefaultsMatchUploadLimits(t *testing.T) {
	t.Setenv("ARCHIVE_POLICY_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.Policy.UploadPolicy()
	want := upload.DefaultPolicy()
	if got.MaxFileBytes != want.MaxFileBytes || got.MaxBatchFiles != want.MaxBatchFiles || got.Concurrency != want.Concurrency {
		t.Fatalf("policy = %+v, want %+v", got, want)
	}
	if len(got.AllowedTypes) != len(want.AllowedTypes) {
		t.Fatalf("allowed types = %v", got.AllowedTypes)
	}
}

func TestLoadReadsPolicyFile(t *testing.T) {
	path := writePolicy(t, `
allowed_types = ["image/png", " IMAGE/PNG ", "application/pdf"]
max_file_mb = 4
concurrency = 3
`)
	t.Setenv("ARCHIVE_POLICY_FILE", path)
	t.Setenv("API_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if strings.Join(cfg.Policy.AllowedTypes, ",") != "image/png,application/pdf" {
		t.Fatalf("allowed types = %v", cfg.Policy.AllowedTypes)
	}
	policy := cfg.Policy.UploadPolicy()
	if policy.MaxFileBytes != 4*1024*1024 {
		t.Fatalf("max file bytes = %d", policy.MaxFileBytes)
	}
	if policy.MaxBatchFiles != upload.MaxBatchFiles {
		t.Fatalf("batch cap should keep default, got %d", policy.MaxBatchFiles)
	}
	if policy.Concurrency != 3 {
		t.Fatalf("concurrency = %d", policy.Concurrency)
	}
}

func TestPolicyValidationRejectsBadValues(t *testing.T) {
	path := writePolicy(t, `
allowed_types = ["pdf"]
max_file_mb = 0
`)
	_, err := LoadIngestPolicy(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"not a mime type", "max_file_mb"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestPolicyRejectsUnknownKeys(t *testing.T) {
	path := writePolicy(t, `max_files = 3`)
	if _, err := LoadIngestPolicy(path); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestGetenvBool(t *testing.T) {
	t.Setenv("BLOB_USE_SSL", "true")
	if !getenvBool("BLOB_USE_SSL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("BLOB_USE_SSL", "nope")
	if getenvBool("BLOB_USE_SSL", false) {
		t.Fatal("expected fallback")
	}
}
