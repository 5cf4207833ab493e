package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMakeMap(t *testing.T) {
	m := MakeMap("feed_url", "ws://localhost/ws")
	if len(m) != 1 || m["feed_url"] != "ws://localhost/ws" {
		t.Errorf("unexpected map %v", m)
	}
}

func TestEnsureParentDirectory(t *testing.T) {
	t.Run("Creates missing directory", func(t *testing.T) {
		base := t.TempDir()
		path := filepath.Join(base, "data", "nested", "livemap.db")

		if err := EnsureParentDirectory(path); err != nil {
			t.Fatalf("EnsureParentDirectory failed: %v", err)
		}

		stat, err := os.Stat(filepath.Dir(path))
		if err != nil {
			t.Fatalf("Failed to stat directory: %v", err)
		}
		if !stat.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("Handles existing directory", func(t *testing.T) {
		base := t.TempDir()
		if err := EnsureParentDirectory(filepath.Join(base, "livemap.db")); err != nil {
			t.Errorf("Failed on existing directory: %v", err)
		}
	})

	t.Run("Bare file name needs no directory", func(t *testing.T) {
		if err := EnsureParentDirectory("livemap.db"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Fails if parent is a file", func(t *testing.T) {
		base := t.TempDir()
		filePath := filepath.Join(base, "not-a-dir")
		if f, err := os.Create(filePath); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		} else {
			f.Close()
		}

		if err := EnsureParentDirectory(filepath.Join(filePath, "livemap.db")); err == nil {
			t.Error("expected error when parent path is a file")
		}
	})
}
