package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

// ProjectServiceImpl implements the ProjectService interface.
type ProjectServiceImpl struct {
	projectRepo secondary.ProjectRepository
}

// NewProjectService creates a new ProjectService with injected dependencies.
func NewProjectService(projectRepo secondary.ProjectRepository) *ProjectServiceImpl {
	return &ProjectServiceImpl{projectRepo: projectRepo}
}

// CreateProject registers a new governed project.
func (s *ProjectServiceImpl) CreateProject(ctx context.Context, name string) (*primary.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	id, err := s.projectRepo.GetNextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate project ID: %w", err)
	}

	record := &secondary.ProjectRecord{
		ID:     id,
		Name:   name,
		Status: secondary.ProjectStatusActive,
	}
	if err := s.projectRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return s.GetProject(ctx, id)
}

// GetProject retrieves a project by ID.
func (s *ProjectServiceImpl) GetProject(ctx context.Context, projectID string) (*primary.Project, error) {
	record, err := s.projectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return recordToProject(record), nil
}

// ListProjects lists all governed projects.
func (s *ProjectServiceImpl) ListProjects(ctx context.Context) ([]*primary.Project, error) {
	records, err := s.projectRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	projects := make([]*primary.Project, 0, len(records))
	for _, record := range records {
		projects = append(projects, recordToProject(record))
	}
	return projects, nil
}

func recordToProject(r *secondary.ProjectRecord) *primary.Project {
	return &primary.Project{
		ID:        r.ID,
		Name:      r.Name,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Ensure ProjectServiceImpl implements the interface
var _ primary.ProjectService = (*ProjectServiceImpl)(nil)
