package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

type object struct {
	data        []byte
	contentType string
}

// Memory keeps objects in process memory. Signed URLs point at BaseURL and
// carry the expiry as a query parameter.
type Memory struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]object
}

func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objects: make(map[string]object)}
}

func (m *Memory) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, body)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("put object %s: wrote %d bytes, expected %d", key, n, size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: buf.Bytes(), contentType: contentType}
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	q := url.Values{}
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return m.BaseURL + "/" + key + "?" + q.Encode(), nil
}

// Get returns a stored object's bytes and content type.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// ServeHTTP serves the URLs SignedURL hands out. The request path is the
// object key; requests past their expiry are refused.
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	expires, err := time.Parse(time.RFC3339, r.URL.Query().Get("expires"))
	if err != nil || time.Now().After(expires) {
		http.Error(w, "link expired", http.StatusForbidden)
		return
	}
	data, contentType, ok := m.Get(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}
