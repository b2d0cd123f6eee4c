package predictors

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "baseline.go", "package main\n\nfunc Predict(item pricing.Item) func(string, int) int { return nil }\n")
	writeFile(t, dir, "baseline.yaml", "owner: baseline\ndescription: reference model\nsource_file: baseline.go\n")
	writeFile(t, dir, "flat.yml", "owner: flat\nsource: |\n  package main\n  func Predict(item pricing.Item) func(string, int) int { return nil }\n")
	writeFile(t, dir, "broken.yaml", "owner: [unterminated\n")
	writeFile(t, dir, "nosource.yaml", "owner: empty\n")
	writeFile(t, dir, "both.yaml", "owner: both\nsource: x\nsource_file: baseline.go\n")
	writeFile(t, dir, "badowner.yaml", "owner: \"bad owner\"\nsource: x\n")
	writeFile(t, dir, "README.md", "not a seed")

	loader := NewLoader()
	if err := loader.LoadFromDir(dir); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	seeds := loader.List()
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(seeds))
	}
	if seeds[0].Username != "baseline" || seeds[1].Username != "flat" {
		t.Errorf("unexpected order: %s, %s", seeds[0].Username, seeds[1].Username)
	}

	baseline := loader.Get("baseline")
	if baseline == nil {
		t.Fatal("baseline seed not found")
	}
	if baseline.Description != "reference model" {
		t.Errorf("unexpected description: %q", baseline.Description)
	}
	if baseline.Source == "" || baseline.Source[:12] != "package main" {
		t.Errorf("source_file not read: %q", baseline.Source)
	}

	flat := loader.Get("flat")
	if flat == nil {
		t.Fatal("flat seed not found")
	}
	if flat.File != filepath.Join(dir, "flat.yml") {
		t.Errorf("unexpected file: %s", flat.File)
	}

	for _, owner := range []string{"empty", "both", "bad owner"} {
		if loader.Get(owner) != nil {
			t.Errorf("seed %q should have been rejected", owner)
		}
	}
}

func TestLoadFromFileMissingSourceFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "seed.yaml", "owner: ghost\nsource_file: missing.go\n")

	if err := NewLoader().LoadFromFile(filepath.Join(dir, "seed.yaml")); err == nil {
		t.Fatal("expected error for missing source_file")
	}
}

func TestLoadFromEmptyDir(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromDir(t.TempDir()); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}
	if n := len(loader.List()); n != 0 {
		t.Errorf("expected no seeds, got %d", n)
	}
}
