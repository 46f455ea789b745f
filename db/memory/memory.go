// Package memory хранит данные в памяти процесса с тем же контрактом,
// что и хранилище PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stonebeam/db"
	"stonebeam/internal/quotation"
	"stonebeam/models"
)

type Storage struct {
	mu         sync.Mutex
	projects   map[string]*models.Project
	quotations map[string]*models.Quotation
	users      map[string]*models.User
}

func NewStorage() *Storage {
	return &Storage{
		projects:   make(map[string]*models.Project),
		quotations: make(map[string]*models.Quotation),
		users:      make(map[string]*models.User),
	}
}

// Atomic выполняет fn под общим мьютексом. Изменения применяются,
// только если fn вернул nil
func (s *Storage) Atomic(ctx context.Context, fn func(tx quotation.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		projects:   make(map[string]*models.Project),
		quotations: make(map[string]*models.Quotation),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, p := range tx.projects {
		s.projects[id] = p
	}
	for id, q := range tx.quotations {
		s.quotations[id] = q
	}
	return nil
}

type memTx struct {
	s          *Storage
	projects   map[string]*models.Project
	quotations map[string]*models.Quotation
}

func (t *memTx) project(id string) *models.Project {
	if p, ok := t.projects[id]; ok {
		return p
	}
	return t.s.projects[id]
}

func (t *memTx) quotation(id string) *models.Quotation {
	if q, ok := t.quotations[id]; ok {
		return q
	}
	return t.s.quotations[id]
}

func (t *memTx) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p := t.project(id)
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", id, quotation.ErrNotFound)
	}
	return p.Clone(), nil
}

func (t *memTx) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	q := t.quotation(id)
	if q == nil {
		return nil, fmt.Errorf("quotation %s: %w", id, quotation.ErrNotFound)
	}
	return q.Clone(), nil
}

func (t *memTx) CreateProject(ctx context.Context, p *models.Project) error {
	if t.project(p.ID) != nil {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	p.Version = 1
	t.projects[p.ID] = p.Clone()
	return nil
}

func (t *memTx) CreateQuotation(ctx context.Context, q *models.Quotation) error {
	if t.quotation(q.ID) != nil {
		return fmt.Errorf("quotation %s already exists", q.ID)
	}
	q.Version = 1
	t.quotations[q.ID] = q.Clone()
	return nil
}

func (t *memTx) UpdateProject(ctx context.Context, p *models.Project) error {
	cur := t.project(p.ID)
	if cur == nil {
		return fmt.Errorf("project %s: %w", p.ID, quotation.ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("project %s at version %d, have %d: %w", p.ID, cur.Version, p.Version, quotation.ErrConflict)
	}
	p.Version++
	t.projects[p.ID] = p.Clone()
	return nil
}

func (t *memTx) UpdateQuotation(ctx context.Context, q *models.Quotation) error {
	cur := t.quotation(q.ID)
	if cur == nil {
		return fmt.Errorf("quotation %s: %w", q.ID, quotation.ErrNotFound)
	}
	if cur.Version != q.Version {
		return fmt.Errorf("quotation %s at version %d, have %d: %w", q.ID, cur.Version, q.Version, quotation.ErrConflict)
	}
	q.Version++
	t.quotations[q.ID] = q.Clone()
	return nil
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return db.ErrUserExists
	}
	c := *u
	s.users[u.Username] = &c
	return nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, quotation.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (s *Storage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, quotation.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Storage) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotations[id]
	if !ok {
		return nil, fmt.Errorf("quotation %s: %w", id, quotation.ErrNotFound)
	}
	return q.Clone(), nil
}

// limit <= 0 означает без ограничения
func (s *Storage) GetProjects(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error) {
	return s.filterProjects(func(p *models.Project) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if p.Status == st {
				return true
			}
		}
		return false
	}, limit, offset), nil
}

func (s *Storage) GetUserProjects(ctx context.Context, username string, limit, offset int) ([]models.Project, error) {
	return s.filterProjects(func(p *models.Project) bool {
		return p.RequesterName == username
	}, limit, offset), nil
}

func (s *Storage) GetQuotationsForProject(ctx context.Context, projectID string, limit, offset int) ([]models.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Quotation{}
	for _, q := range s.quotations {
		if q.ProjectID == projectID {
			out = append(out, *q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total < out[j].Total
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return page(out, limit, offset), nil
}

// GetUserQuotations возвращает предложения поставщика, новые первыми
func (s *Storage) GetUserQuotations(ctx context.Context, username string, limit, offset int) ([]models.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Quotation{}
	for _, q := range s.quotations {
		if q.SubmittedBy == username {
			out = append(out, *q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

func (s *Storage) filterProjects(keep func(*models.Project) bool, limit, offset int) []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Project{}
	for _, p := range s.projects {
		if keep(p) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset)
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
