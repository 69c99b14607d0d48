package definitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// Loader imports questionnaire YAML files into the definition store.
// Files are matched to stored definitions by code, so reloading an
// unchanged directory is a no-op.
type Loader struct {
	service *Service
}

// NewLoader creates a new definition loader
func NewLoader(service *Service) *Loader {
	return &Loader{service: service}
}

// fileHeader carries the lifecycle fields that are not part of the mirror
type fileHeader struct {
	Code   string                  `yaml:"code"`
	Status models.DefinitionStatus `yaml:"status"`
}

// LoadFromDir imports every *.yaml and *.yml file in dir. A bad file is
// logged and skipped; the returned count is the number of files imported.
func (l *Loader) LoadFromDir(ctx context.Context, dir string) (int, error) {
	slog.Info("loading definitions from directory", "dir", dir)

	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("definitions directory unavailable: %w", err)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(ctx, file); err != nil {
			slog.Warn("failed to load definition", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("definitions loaded", "count", loaded, "total_files", len(files))
	return loaded, nil
}

// LoadFromFile imports one definition file, creating or updating by code
func (l *Loader) LoadFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var header fileHeader
	if err := yaml.Unmarshal(data, &header); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if header.Code == "" {
		return &ValidationError{Problems: []string{"code is required"}}
	}

	def := &models.QuestionnaireDefinition{}
	existing, err := l.service.GetByCode(ctx, header.Code)
	switch {
	case err == nil:
		def = existing.Clone()
	case !errors.Is(err, ErrDefinitionNotFound):
		return err
	}

	def.YAMLConfig = string(data)
	if header.Status != "" {
		def.Status = header.Status
	}

	saved, err := l.service.Save(ctx, def)
	if err != nil {
		return err
	}

	slog.Info("definition loaded", "code", saved.Code, "type", saved.Type, "status", saved.Status)
	return nil
}
