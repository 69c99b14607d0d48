// Package definitions manages questionnaire definitions: validation, the
// structured/YAML mirror sync and the draft/active lifecycle.
package definitions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// timeNow is swapped in tests
var timeNow = time.Now

// Store is the persistence the service needs. Getters return nil, nil when
// nothing matches.
type Store interface {
	CreateDefinition(ctx context.Context, def *models.QuestionnaireDefinition) error
	UpdateDefinition(ctx context.Context, def *models.QuestionnaireDefinition) error
	GetDefinition(ctx context.Context, id string) (*models.QuestionnaireDefinition, error)
	GetDefinitionByCode(ctx context.Context, code string) (*models.QuestionnaireDefinition, error)
	ListDefinitions(ctx context.Context, filters models.DefinitionFilters) ([]*models.QuestionnaireDefinition, error)
}

// Service is the only write path for definitions
type Service struct {
	store Store
}

// NewService creates a new definition service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Save creates (empty ID) or updates a definition. The mirror and fields are
// reconciled first; nothing is persisted when reconciliation fails.
func (s *Service) Save(ctx context.Context, def *models.QuestionnaireDefinition) (*models.QuestionnaireDefinition, error) {
	var prev *models.QuestionnaireDefinition
	if def.ID != "" {
		existing, err := s.store.GetDefinition(ctx, def.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition: %w", err)
		}
		if existing == nil {
			return nil, ErrDefinitionNotFound
		}
		prev = existing
	}

	next := def.Clone()
	source, err := Reconcile(prev, next)
	if err != nil {
		return nil, err
	}

	if next.Status == "" {
		next.Status = models.DefinitionDraft
		if prev != nil {
			next.Status = prev.Status
		}
	}
	if next.Status != models.DefinitionDraft && next.Status != models.DefinitionActive {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("unknown status %q", next.Status)}}
	}

	if other, err := s.store.GetDefinitionByCode(ctx, next.Code); err != nil {
		return nil, fmt.Errorf("failed to check definition code: %w", err)
	} else if other != nil && other.ID != next.ID {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, next.Code)
	}

	now := timeNow().UTC()
	next.UpdatedAt = now
	next.ActivatedAt = nil
	if prev != nil {
		next.ActivatedAt = prev.ActivatedAt
	}
	markActivated(next, now)

	if prev == nil {
		next.ID = uuid.New().String()
		next.CreatedAt = now
		if err := s.store.CreateDefinition(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to create definition: %w", err)
		}
		slog.Info("definition created", "id", next.ID, "code", next.Code, "source", source)
		return next, nil
	}

	if prev.IsFrozen() && !sameQuestions(prev.Questions, next.Questions) {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionLocked, prev.Code)
	}

	next.CreatedAt = prev.CreatedAt
	if err := s.store.UpdateDefinition(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}
	slog.Info("definition updated", "id", next.ID, "code", next.Code, "source", source)
	return next, nil
}

// Get returns a definition by ID
func (s *Service) Get(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}
	return def, nil
}

// GetByCode returns a definition by its unique code
func (s *Service) GetByCode(ctx context.Context, code string) (*models.QuestionnaireDefinition, error) {
	def, err := s.store.GetDefinitionByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}
	return def, nil
}

// List returns definitions matching the filters
func (s *Service) List(ctx context.Context, filters models.DefinitionFilters) ([]*models.QuestionnaireDefinition, error) {
	return s.store.ListDefinitions(ctx, filters)
}

// LatestActive returns the active definition of a type with the highest
// version, or ErrDefinitionNotFound.
func (s *Service) LatestActive(ctx context.Context, questionnaireType string) (*models.QuestionnaireDefinition, error) {
	defs, err := s.store.ListDefinitions(ctx, models.DefinitionFilters{
		Type:   questionnaireType,
		Status: models.DefinitionActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	if len(defs) == 0 {
		return nil, ErrDefinitionNotFound
	}

	sort.SliceStable(defs, func(i, j int) bool {
		if c := compareVersions(defs[i].Version, defs[j].Version); c != 0 {
			return c > 0
		}
		return defs[i].UpdatedAt.After(defs[j].UpdatedAt)
	})
	return defs[0], nil
}

// Activate makes a definition available to subjects. Its questions are frozen from then on.
func (s *Service) Activate(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	return s.setStatus(ctx, id, models.DefinitionActive)
}

// Deactivate withdraws a definition from new sessions. Its questions stay
// frozen because recorded steps may still reference it.
func (s *Service) Deactivate(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	return s.setStatus(ctx, id, models.DefinitionDraft)
}

func (s *Service) setStatus(ctx context.Context, id string, status models.DefinitionStatus) (*models.QuestionnaireDefinition, error) {
	def, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Status == status {
		return def, nil
	}
	if err := ValidateFields(def); err != nil {
		return nil, err
	}

	now := timeNow().UTC()
	def.Status = status
	def.UpdatedAt = now
	markActivated(def, now)
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update definition status: %w", err)
	}

	slog.Info("definition status changed", "id", id, "code", def.Code, "status", status)
	return def, nil
}

// Duplicate copies a definition into a new draft under another code and
// version. This is how the questions of an active definition get revised.
func (s *Service) Duplicate(ctx context.Context, id, code, version string) (*models.QuestionnaireDefinition, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cp := src.Clone()
	cp.ID = ""
	cp.Code = code
	if cp.Code == "" {
		cp.Code = src.Code + "_copy"
	}
	if version != "" {
		cp.Version = version
	}
	cp.Status = models.DefinitionDraft
	cp.ActivatedAt = nil
	cp.YAMLConfig = ""

	return s.Save(ctx, cp)
}

// markActivated stamps the first activation of an active definition
func markActivated(def *models.QuestionnaireDefinition, at time.Time) {
	if def.IsActive() && def.ActivatedAt == nil {
		def.ActivatedAt = &at
	}
}

// compareVersions orders dotted versions numerically where possible
func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(strings.TrimSpace(a), "v"), ".")
	pb := strings.Split(strings.TrimPrefix(strings.TrimSpace(b), "v"), ".")

	for i := 0; i < len(pa) || i < len(pb); i++ {
		var sa, sb string
		if i < len(pa) {
			sa = pa[i]
		}
		if i < len(pb) {
			sb = pb[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if sa == "" {
			na, errA = 0, nil
		}
		if sb == "" {
			nb, errB = 0, nil
		}
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na > nb {
					return 1
				}
				return -1
			}
		case sa != sb:
			return strings.Compare(sa, sb)
		}
	}
	return 0
}
