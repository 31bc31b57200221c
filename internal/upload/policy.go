package upload

import (
	"fmt"
	"strings"
)

const (
	MaxFileBytes       int64 = 8 * 1024 * 1024
	MaxBatchFiles            = 10
	DefaultConcurrency       = 2
)

// DefaultAllowedTypes are the mime types accepted for ingest.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/webp",
	"application/pdf",
}

// Policy bounds what a batch may contain and how many uploads run at once.
type Policy struct {
	AllowedTypes  []string
	MaxFileBytes  int64
	MaxBatchFiles int
	Concurrency   int
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedTypes:  append([]string(nil), DefaultAllowedTypes...),
		MaxFileBytes:  MaxFileBytes,
		MaxBatchFiles: MaxBatchFiles,
		Concurrency:   DefaultConcurrency,
	}
}

func (p Policy) normalized() Policy {
	out := p
	if len(out.AllowedTypes) == 0 {
		out.AllowedTypes = append([]string(nil), DefaultAllowedTypes...)
	}
	if out.MaxFileBytes <= 0 {
		out.MaxFileBytes = MaxFileBytes
	}
	if out.MaxBatchFiles <= 0 {
		out.MaxBatchFiles = MaxBatchFiles
	}
	if out.Concurrency <= 0 {
		out.Concurrency = DefaultConcurrency
	}
	return out
}

func (p Policy) allows(mimeType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if normalized == "" {
		return false
	}
	for _, allowed := range p.AllowedTypes {
		if strings.EqualFold(allowed, normalized) {
			return true
		}
	}
	return false
}

// ValidationError is a pre-flight rejection of one file. No network call is
// made for a rejected file.
type ValidationError struct {
	FileName string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FileName, e.Reason)
}

// Validate checks a single file against the policy.
func (p Policy) Validate(f File) error {
	p = p.normalized()
	if !p.allows(f.Type) {
		kind := f.Type
		if kind == "" {
			kind = "unknown"
		}
		return &ValidationError{
			FileName: f.Name,
			Reason:   fmt.Sprintf("file type %s is not supported (use JPEG, PNG, WebP or PDF)", kind),
		}
	}
	if f.Size > p.MaxFileBytes {
		return &ValidationError{
			FileName: f.Name,
			Reason:   fmt.Sprintf("file is %s, larger than the %s limit", formatMB(f.Size), formatMB(p.MaxFileBytes)),
		}
	}
	return nil
}

func formatMB(n int64) string {
	mb := float64(n) / (1024 * 1024)
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%d MB", int64(mb))
	}
	return fmt.Sprintf("%.1f MB", mb)
}

// Notice is the combined multi-line message for everything dropped from a
// batch.
type Notice struct {
	Lines []string
}

func (n Notice) Empty() bool {
	return len(n.Lines) == 0
}

func (n Notice) String() string {
	return strings.Join(n.Lines, "\n")
}
