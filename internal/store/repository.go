package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Repository is the durable side of the project state store. Every method
// applies completely or not at all.
type Repository interface {
	InsertProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjectsFor(ctx context.Context, principal string) ([]Project, error)
	InsertCollaborator(ctx context.Context, projectID string, collaborator Collaborator) error
	// AppendSnapshot stores snapshot at index and, when code is non-nil,
	// replaces the current code in the same write.
	AppendSnapshot(ctx context.Context, projectID string, index int, snapshot Snapshot, code *string) error
	UpdateCode(ctx context.Context, projectID, code string) error
	Ping(ctx context.Context) error
}

type UserRepository interface {
	InsertUser(ctx context.Context, user User) error
	GetUserByUsername(ctx context.Context, username string) (User, error)
}
