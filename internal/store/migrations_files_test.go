package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestPendingMigrationsSkipsDownFilesAndSorts(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_links.up.sql":   {Data: []byte("ALTER TABLE x;")},
		"0001_init.down.sql":  {Data: []byte("DROP TABLE x;")},
		"0001_init.up.sql":    {Data: []byte("CREATE TABLE x();")},
		"README.md":           {Data: []byte("notes")},
		"archive/0003.up.sql": {Data: []byte("ignored")},
	}
	files, err := PendingMigrations(fsys)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(files) != 2 || files[0] != "0001_init.up.sql" || files[1] != "0002_links.up.sql" {
		t.Fatalf("files = %v", files)
	}
}
