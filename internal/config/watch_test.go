package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  name: First\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	if err := w.Watch(ctx, func(c *Config) { changed <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Unrelated files in the directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600)
	if err := os.WriteFile(path, []byte("pipeline:\n  name: Second\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Pipeline.Name == "Second" {
				return
			}
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	if _, err := NewWatcher("", nil); err == nil {
		t.Error("NewWatcher(\"\") succeeded")
	}
}
