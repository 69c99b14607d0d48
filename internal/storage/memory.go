package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// MemoryRepository implements Repository in process memory. Every value is
// copied on the way in and out, so callers never share state with the store.
// Used for tests and single-node development.
type MemoryRepository struct {
	mu          sync.RWMutex
	definitions map[string]*models.QuestionnaireDefinition
	sessions    map[string]*models.AssessmentSession
	results     map[string]*models.ScaleResult
	profiles    map[string]*models.SubjectProfile
	clients     map[string]*models.ApiClient
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		definitions: make(map[string]*models.QuestionnaireDefinition),
		sessions:    make(map[string]*models.AssessmentSession),
		results:     make(map[string]*models.ScaleResult),
		profiles:    make(map[string]*models.SubjectProfile),
		clients:     make(map[string]*models.ApiClient),
	}
}

// --- Definitions ---

func (m *MemoryRepository) CreateDefinition(_ context.Context, def *models.QuestionnaireDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.definitions[def.ID]; ok {
		return fmt.Errorf("definition %s already exists", def.ID)
	}
	for _, d := range m.definitions {
		if d.Code == def.Code {
			return fmt.Errorf("definition code %s already exists", def.Code)
		}
	}
	m.definitions[def.ID] = def.Clone()
	return nil
}

func (m *MemoryRepository) UpdateDefinition(_ context.Context, def *models.QuestionnaireDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.definitions[def.ID]; !ok {
		return fmt.Errorf("definition %s not found", def.ID)
	}
	m.definitions[def.ID] = def.Clone()
	return nil
}

func (m *MemoryRepository) GetDefinition(_ context.Context, id string) (*models.QuestionnaireDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.definitions[id].Clone(), nil
}

func (m *MemoryRepository) GetDefinitionByCode(_ context.Context, code string) (*models.QuestionnaireDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.definitions {
		if d.Code == code {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ListDefinitions(_ context.Context, filters models.DefinitionFilters) ([]*models.QuestionnaireDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.QuestionnaireDefinition
	for _, d := range m.definitions {
		if filters.Type != "" && d.Type != filters.Type {
			continue
		}
		if filters.Status != "" && d.Status != filters.Status {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return page(out, filters.Limit, filters.Offset), nil
}

// --- Sessions ---

func (m *MemoryRepository) CreateSession(_ context.Context, s *models.AssessmentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryRepository) GetSession(_ context.Context, id string) (*models.AssessmentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[id].Clone(), nil
}

// UpdateSession holds the write lock for the whole mutation, which gives
// the same isolation as the row lock in Postgres.
func (m *MemoryRepository) UpdateSession(_ context.Context, id string, fn SessionMutation) (*models.AssessmentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}

	working := current.Clone()
	result, err := fn(working)
	if err != nil {
		return nil, err
	}

	if result != nil {
		if _, exists := m.results[result.ID]; exists {
			return nil, fmt.Errorf("result %s already exists", result.ID)
		}
		m.results[result.ID] = cloneResult(result)
	}
	m.sessions[id] = working.Clone()
	return working, nil
}

func (m *MemoryRepository) ListStaleSessions(_ context.Context, inactiveSince time.Time, limit int) ([]*models.AssessmentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AssessmentSession
	for _, s := range m.sessions {
		if s.Status == models.SessionInProgress && s.UpdatedAt.Before(inactiveSince) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

// --- Results ---

func (m *MemoryRepository) CreateResult(_ context.Context, r *models.ScaleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.results[r.ID]; ok {
		return fmt.Errorf("result %s already exists", r.ID)
	}
	m.results[r.ID] = cloneResult(r)
	return nil
}

func (m *MemoryRepository) GetResult(_ context.Context, id string) (*models.ScaleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.results[id]
	if !ok {
		return nil, nil
	}
	return cloneResult(r), nil
}

func (m *MemoryRepository) ListResults(_ context.Context, filters models.ResultFilters) ([]*models.ScaleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ScaleResult
	for _, r := range m.results {
		if filters.SubjectID != "" && r.SubjectID != filters.SubjectID {
			continue
		}
		if filters.QuestionnaireType != "" && r.QuestionnaireType != filters.QuestionnaireType {
			continue
		}
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filters.Limit, filters.Offset), nil
}

// --- Profiles ---

func (m *MemoryRepository) GetProfile(_ context.Context, subjectID string) (*models.SubjectProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[subjectID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) UpsertProfile(_ context.Context, p *models.SubjectProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.profiles[p.SubjectID] = &cp
	return nil
}

// --- API Clients ---

// AddClient registers an API client; the in-memory store has no other way to provision one
func (m *MemoryRepository) AddClient(c *models.ApiClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.clients[c.ApiKey] = &cp
}

func (m *MemoryRepository) GetClientByApiKey(_ context.Context, apiKey string) (*models.ApiClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Permissions = append([]string(nil), c.Permissions...)
	return &cp, nil
}

func (m *MemoryRepository) UpdateClientLastUsed(_ context.Context, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[apiKey]; ok {
		now := time.Now()
		c.LastUsedAt = &now
	}
	return nil
}

// --- Health ---

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }

func cloneResult(r *models.ScaleResult) *models.ScaleResult {
	cp := *r
	cp.SelectedOptions = append([]int(nil), r.SelectedOptions...)
	cp.Analysis = r.Analysis.Clone()
	if r.SessionID != nil {
		id := *r.SessionID
		cp.SessionID = &id
	}
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
