package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps projects and users in process memory. Values are
// copied on the way in and out.
type MemoryRepository struct {
	mu       sync.RWMutex
	projects map[string]Project
	users    map[string]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects: make(map[string]Project),
		users:    make(map[string]User),
	}
}

func (m *MemoryRepository) InsertProject(_ context.Context, project Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[project.ID]; ok {
		return fmt.Errorf("insert project %s: %w", project.ID, ErrDuplicate)
	}
	m.projects[project.ID] = project.Clone()
	return nil
}

func (m *MemoryRepository) GetProject(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	project, ok := m.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return project.Clone(), nil
}

func (m *MemoryRepository) ListProjectsFor(_ context.Context, principal string) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Project, 0)
	for _, project := range m.projects {
		if project.HasMember(principal) {
			items = append(items, project.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (m *MemoryRepository) InsertCollaborator(_ context.Context, projectID string, collaborator Collaborator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := project.CollaboratorRole(collaborator.Principal); exists {
		return fmt.Errorf("insert collaborator %s: %w", collaborator.Principal, ErrDuplicate)
	}
	project = project.Clone()
	project.Collaborators = append(project.Collaborators, collaborator)
	m.projects[projectID] = project
	return nil
}

func (m *MemoryRepository) AppendSnapshot(_ context.Context, projectID string, index int, snapshot Snapshot, code *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	if index != project.History.Len() {
		return fmt.Errorf("append snapshot %d to %s: history has %d entries", index, projectID, project.History.Len())
	}
	project = project.Clone()
	project.History = append(project.History, snapshot)
	if code != nil {
		project.Code = *code
	}
	m.projects[projectID] = project
	return nil
}

func (m *MemoryRepository) UpdateCode(_ context.Context, projectID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	project.Code = code
	m.projects[projectID] = project
	return nil
}

func (m *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (m *MemoryRepository) InsertUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return fmt.Errorf("insert user %s: %w", user.Username, ErrDuplicate)
	}
	m.users[user.Username] = user
	return nil
}

func (m *MemoryRepository) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}
