package primary

import "context"

// ProjectService defines the primary port for the project registry.
// The governor only needs the halted flag and identity; task CRUD lives
// outside the governor.
type ProjectService interface {
	// CreateProject registers a new governed project.
	CreateProject(ctx context.Context, name string) (*Project, error)

	// GetProject retrieves a project by ID.
	GetProject(ctx context.Context, projectID string) (*Project, error)

	// ListProjects lists all governed projects.
	ListProjects(ctx context.Context) ([]*Project, error)
}

// Project represents a project at the port boundary.
type Project struct {
	ID        string
	Name      string
	Status    string // 'active', 'halted', 'archived'
	CreatedAt string
}

// Project status constants
const (
	ProjectStatusActive   = "active"
	ProjectStatusHalted   = "halted"
	ProjectStatusArchived = "archived"
)
