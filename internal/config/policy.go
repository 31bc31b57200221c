package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"archive/api/internal/upload"
)

// IngestPolicy is the TOML form of the upload policy. Every field is optional;
// zero values fall back to the built-in limits.
type IngestPolicy struct {
	AllowedTypes  []string `toml:"allowed_types"`
	MaxFileMB     int      `toml:"max_file_mb"`
	MaxBatchFiles int      `toml:"max_batch_files"`
	Concurrency   int      `toml:"concurrency"`
}

func DefaultIngestPolicy() IngestPolicy {
	return IngestPolicy{
		AllowedTypes:  append([]string(nil), upload.DefaultAllowedTypes...),
		MaxFileMB:     int(upload.MaxFileBytes / (1024 * 1024)),
		MaxBatchFiles: upload.MaxBatchFiles,
		Concurrency:   upload.DefaultConcurrency,
	}
}

// LoadIngestPolicy decodes, normalizes and validates a policy file.
func LoadIngestPolicy(path string) (IngestPolicy, error) {
	file, err := os.Open(path)
	if err != nil {
		return IngestPolicy{}, fmt.Errorf("open policy: %w", err)
	}
	defer file.Close()

	policy := DefaultIngestPolicy()
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&policy); err != nil {
		return IngestPolicy{}, fmt.Errorf("parse policy: %w", err)
	}
	policy.normalize()
	if err := policy.Validate(); err != nil {
		return IngestPolicy{}, err
	}
	return policy, nil
}

func (p *IngestPolicy) normalize() {
	seen := make(map[string]struct{}, len(p.AllowedTypes))
	types := make([]string, 0, len(p.AllowedTypes))
	for _, t := range p.AllowedTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	p.AllowedTypes = types
}

func (p IngestPolicy) Validate() error {
	var problems []string
	if len(p.AllowedTypes) == 0 {
		problems = append(problems, "allowed_types must list at least one mime type")
	}
	for _, t := range p.AllowedTypes {
		if !strings.Contains(t, "/") {
			problems = append(problems, fmt.Sprintf("allowed_types entry %q is not a mime type", t))
		}
	}
	if p.MaxFileMB <= 0 {
		problems = append(problems, "max_file_mb must be positive")
	}
	if p.MaxBatchFiles <= 0 {
		problems = append(problems, "max_batch_files must be positive")
	}
	if p.Concurrency <= 0 {
		problems = append(problems, "concurrency must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid ingest policy: " + strings.Join(problems, "; "))
	}
	return nil
}

// UploadPolicy converts the file form into the policy the upload controller
// and the backend enforce.
func (p IngestPolicy) UploadPolicy() upload.Policy {
	return upload.Policy{
		AllowedTypes:  append([]string(nil), p.AllowedTypes...),
		MaxFileBytes:  int64(p.MaxFileMB) * 1024 * 1024,
		MaxBatchFiles: p.MaxBatchFiles,
		Concurrency:   p.Concurrency,
	}
}
