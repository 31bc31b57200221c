package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archive/api/internal/app"
	"archive/api/internal/archive"
	"archive/api/internal/blob"
	"archive/api/internal/config"
	"archive/api/internal/logging"
	"archive/api/internal/store"
)

type cliTestEnv struct {
	server        *httptest.Server
	ownerConfig   string
	stewardConfig string
	baseDir       string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	svc := app.New(config.Config{
		TokenSecret:  "cli-secret",
		TokenTTL:     time.Hour,
		SignedURLTTL: 10 * time.Minute,
		Policy:       config.DefaultIngestPolicy(),
	}, store.NewMemoryStore(), blob.NewMemory("http://blobs.test"), app.WithLogger(logging.Discard()))
	srv := httptest.NewServer(app.NewHTTPServer(svc, "*", logging.Discard()).Handler())
	t.Cleanup(srv.Close)

	return &cliTestEnv{
		server:        srv,
		ownerConfig:   filepath.Join(base, "owner.toml"),
		stewardConfig: filepath.Join(base, "steward.toml"),
		baseDir:       base,
	}
}

func (e *cliTestEnv) run(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath, "--server", e.server.URL, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(t, configPath, args...)
	if err != nil {
		t.Fatalf("archivectl %s: %v\nstdout: %s\nstderr: %s", strings.Join(args, " "), err, out, errOut)
	}
	return out
}

func (e *cliTestEnv) writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(e.baseDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (e *cliTestEnv) items(t *testing.T) []archive.Contribution {
	t.Helper()
	out := e.mustRun(t, e.ownerConfig, "--json", "items")
	var items []archive.Contribution
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode items: %v\n%s", err, out)
	}
	return items
}

func TestLoginStoresSession(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, env.ownerConfig, "login", "--name", "Ada", "--email", "ada@example.com")
	if !strings.Contains(out, "Signed in as Ada (owner)") {
		t.Fatalf("login output = %q", out)
	}
	s, err := loadSettings(env.ownerConfig)
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if s.Token == "" || s.ProfileID == "" || s.Kind != "owner" {
		t.Fatalf("settings = %+v", s)
	}

	env.mustRun(t, env.ownerConfig, "logout")
	if _, _, err := env.run(t, env.ownerConfig, "items"); err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Fatalf("items after logout error = %v", err)
	}
}

func TestUploadReorderSubmitAndReview(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, env.stewardConfig, "login", "--name", "Sam", "--email", "sam@example.com", "--steward")
	env.mustRun(t, env.ownerConfig, "login", "--name", "Ada", "--email", "ada@example.com")

	out := env.mustRun(t, env.ownerConfig, "profile", "show")
	if !strings.Contains(out, "Not ready to submit") {
		t.Fatalf("profile show = %q", out)
	}
	env.mustRun(t, env.ownerConfig, "profile", "set",
		"--name", "Ada Lovelace",
		"--intro", strings.Repeat("Mathematician and writer. ", 3),
	)

	first := env.writeFile(t, "first.png", []byte("\x89PNG\r\n\x1a\nfirst"))
	second := env.writeFile(t, "second.png", []byte("\x89PNG\r\n\x1a\nsecond"))
	doc := env.writeFile(t, "letter.pdf", []byte("%PDF-1.4 letter"))
	gif := env.writeFile(t, "anim.gif", []byte("GIF89a"))

	out, errOut, err := env.run(t, env.ownerConfig, "upload", first, second, doc, gif, "--visibility", "public", "--description", "From the attic")
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, errOut)
	}
	if !strings.Contains(errOut, "anim.gif") {
		t.Fatalf("rejected file should be reported, stderr = %q", errOut)
	}
	if strings.Count(out, "succeeded") != 3 {
		t.Fatalf("upload table = %s", out)
	}

	items := env.items(t)
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	var images []archive.Contribution
	for _, item := range items {
		if item.Visibility != archive.VisibilityPublic || item.Description != "From the attic" {
			t.Fatalf("batch metadata not applied: %+v", item)
		}
		if item.ItemType == archive.ItemImage {
			images = append(images, item)
		}
	}
	if len(images) != 2 {
		t.Fatalf("images = %+v", images)
	}

	env.mustRun(t, env.ownerConfig, "move", images[1].ID, "1")
	reordered := env.items(t)
	var order []string
	for _, item := range reordered {
		if item.ItemType == archive.ItemImage {
			order = append(order, item.ID)
		}
	}
	if len(order) != 2 || order[0] != images[1].ID {
		t.Fatalf("image order after move = %v", order)
	}

	out = env.mustRun(t, env.ownerConfig, "submit")
	if !strings.Contains(out, "1 steward notified") {
		t.Fatalf("submit output = %q", out)
	}
	if _, _, err := env.run(t, env.ownerConfig, "delete", images[0].ID); err == nil {
		t.Fatal("delete should fail while the profile awaits review")
	}

	s, err := loadSettings(env.ownerConfig)
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if _, _, err := env.run(t, env.ownerConfig, "review", s.ProfileID, "--decision", "approve"); err == nil {
		t.Fatal("owner must not be able to review")
	}
	out = env.mustRun(t, env.stewardConfig, "review", s.ProfileID, "--decision", "approve")
	if !strings.Contains(out, "approved") {
		t.Fatalf("review output = %q", out)
	}

	out = env.mustRun(t, env.ownerConfig, "preview", "--as", "public")
	if !strings.Contains(out, "letter") || !strings.Contains(out, "second") {
		t.Fatalf("public preview = %s", out)
	}
}

func TestPreviewRejectsUnknownRole(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, env.ownerConfig, "login", "--name", "Ada")
	if _, _, err := env.run(t, env.ownerConfig, "preview", "--as", "neighbour"); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestSearchWithoutIndexReportsNoMatches(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, env.ownerConfig, "search", "attic")
	if !strings.Contains(out, "No matches") {
		t.Fatalf("search output = %q", out)
	}
}
