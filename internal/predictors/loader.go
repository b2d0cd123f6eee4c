// Package predictors loads seed prediction functions shipped with a deployment.
//
// A seed is a YAML file:
//
//	owner: baseline
//	description: inverse price plus review score
//	source_file: baseline.go   # or an inline "source" block
//
// Seeds are registered through the arena at startup like any user upload.
package predictors

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// Seed is a prediction function read from disk
type Seed struct {
	models.PredictionFunction
	Description string
	File        string
}

// Loader manages loading of seed predictors
type Loader struct {
	mu    sync.RWMutex
	seeds map[string]*Seed
}

// NewLoader creates a new seed loader
func NewLoader() *Loader {
	return &Loader{
		seeds: make(map[string]*Seed),
	}
}

// LoadFromDir loads all YAML seeds from a directory.
// Invalid files are logged and skipped.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading seed predictors from directory", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("failed to list seeds: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load seed predictor", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("seed predictors loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single seed from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if sf.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if !models.ValidUsername(sf.Owner) {
		return fmt.Errorf("invalid owner %q", sf.Owner)
	}

	source := sf.Source
	switch {
	case source != "" && sf.SourceFile != "":
		return fmt.Errorf("source and source_file are mutually exclusive")
	case sf.SourceFile != "":
		srcPath := sf.SourceFile
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(filepath.Dir(path), srcPath)
		}
		body, err := os.ReadFile(srcPath)
		if err != nil {
			return fmt.Errorf("failed to read source_file: %w", err)
		}
		source = string(body)
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("source is required")
	}

	seed := &Seed{
		PredictionFunction: models.PredictionFunction{
			Username: sf.Owner,
			Source:   source,
		},
		Description: sf.Description,
		File:        path,
	}

	l.mu.Lock()
	l.seeds[sf.Owner] = seed
	l.mu.Unlock()

	slog.Info("seed predictor loaded", "owner", sf.Owner, "file", path)
	return nil
}

// Get retrieves a seed by owner
func (l *Loader) Get(owner string) *Seed {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seeds[owner]
}

// List returns all loaded seeds ordered by owner
func (l *Loader) List() []*Seed {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Seed, 0, len(l.seeds))
	for _, s := range l.seeds {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result
}

// seedFile represents the YAML structure of a seed file
type seedFile struct {
	Owner       string `yaml:"owner"`
	Description string `yaml:"description"`
	Source      string `yaml:"source"`
	SourceFile  string `yaml:"source_file"`
}
