package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"codesync/api/internal/rbac"
	"codesync/api/internal/util"
)

// Guard inspects the project as read under its lock and aborts the
// operation by returning an error.
type Guard func(Project) error

// Then runs under the project lock after the durable write succeeded, so
// whatever it enqueues is ordered like the mutations themselves. It must not
// block on the network or the disk.
type Then func(Project)

type Option func(*opConfig)

type opConfig struct {
	guard Guard
	then  Then
}

func WithGuard(guard Guard) Option {
	return func(c *opConfig) { c.guard = guard }
}

func WithThen(then Then) Option {
	return func(c *opConfig) { c.then = then }
}

// ProjectStore is the authoritative project state. Every read-modify-write
// runs under a per-project mutex; different projects never contend.
type ProjectStore struct {
	repo   Repository
	now    func() time.Time
	lockMu sync.Mutex
	locks  map[string]*lockEntry
}

// lockEntry counts holders and waiters so idle locks can be dropped.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewProjectStore(repo Repository) *ProjectStore {
	return &ProjectStore{
		repo:  repo,
		now:   time.Now,
		locks: make(map[string]*lockEntry),
	}
}

// SetClock replaces the snapshot timestamp source.
func (s *ProjectStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ProjectStore) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *ProjectStore) Create(ctx context.Context, owner, name string) (Project, error) {
	project := Project{
		ID:            util.NewID("prj"),
		Name:          strings.TrimSpace(name),
		Owner:         owner,
		Code:          "",
		Collaborators: []Collaborator{},
		History:       History{},
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.InsertProject(ctx, project); err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *ProjectStore) Get(ctx context.Context, id string) (Project, error) {
	unlock := s.lockProject(id)
	defer unlock()
	return s.repo.GetProject(ctx, id)
}

func (s *ProjectStore) ListFor(ctx context.Context, principal string) ([]Project, error) {
	return s.repo.ListProjectsFor(ctx, principal)
}

// AddCollaborator grants role to principal. The owner can never be added.
func (s *ProjectStore) AddCollaborator(ctx context.Context, id, principal, role string, opts ...Option) error {
	parsed, err := rbac.ParseCollaboratorRole(role)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, id, opts, func(project *Project) (func(context.Context) error, error) {
		if project.HasMember(principal) {
			return nil, ErrDuplicate
		}
		collaborator := Collaborator{Principal: principal, Role: parsed}
		project.Collaborators = append(project.Collaborators, collaborator)
		return func(ctx context.Context) error {
			return s.repo.InsertCollaborator(ctx, id, collaborator)
		}, nil
	})
	return err
}

// Commit records the current code as a new snapshot. Code is unchanged.
func (s *ProjectStore) Commit(ctx context.Context, id, message string, opts ...Option) (int, error) {
	index := -1
	_, err := s.mutate(ctx, id, opts, func(project *Project) (func(context.Context) error, error) {
		index = project.History.Append(project.Code, message, s.now().UTC())
		snapshot := project.History[index]
		return func(ctx context.Context) error {
			return s.repo.AppendSnapshot(ctx, id, index, snapshot, nil)
		}, nil
	})
	if err != nil {
		return -1, err
	}
	return index, nil
}

// Push records the pre-push code as a snapshot and then replaces the code.
// It always appends exactly one entry, even when newCode is unchanged.
func (s *ProjectStore) Push(ctx context.Context, id, newCode, message string, opts ...Option) (int, error) {
	index := -1
	_, err := s.mutate(ctx, id, opts, func(project *Project) (func(context.Context) error, error) {
		index = project.History.Append(project.Code, message, s.now().UTC())
		snapshot := project.History[index]
		project.Code = newCode
		return func(ctx context.Context) error {
			return s.repo.AppendSnapshot(ctx, id, index, snapshot, &newCode)
		}, nil
	})
	if err != nil {
		return -1, err
	}
	return index, nil
}

// Revert replaces the code with history[index].code. It does not append a
// snapshot, so code that was never committed is lost.
func (s *ProjectStore) Revert(ctx context.Context, id string, index int, opts ...Option) (Project, error) {
	return s.mutate(ctx, id, opts, func(project *Project) (func(context.Context) error, error) {
		snapshot, err := project.History.Get(index)
		if err != nil {
			return nil, err
		}
		project.Code = snapshot.Code
		return func(ctx context.Context) error {
			return s.repo.UpdateCode(ctx, id, snapshot.Code)
		}, nil
	})
}

// LiveEdit replaces the code without a snapshot.
func (s *ProjectStore) LiveEdit(ctx context.Context, id, newCode string, opts ...Option) (Project, error) {
	return s.mutate(ctx, id, opts, func(project *Project) (func(context.Context) error, error) {
		project.Code = newCode
		return func(ctx context.Context) error {
			return s.repo.UpdateCode(ctx, id, newCode)
		}, nil
	})
}

// mutate loads the project under its lock, runs the guard, applies change to
// a private copy and persists it. Nothing is visible unless persist succeeds.
func (s *ProjectStore) mutate(ctx context.Context, id string, opts []Option, change func(*Project) (func(context.Context) error, error)) (Project, error) {
	var cfg opConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	unlock := s.lockProject(id)
	defer unlock()

	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if cfg.guard != nil {
		if err := cfg.guard(project.Clone()); err != nil {
			return Project{}, err
		}
	}
	persist, err := change(&project)
	if err != nil {
		return Project{}, err
	}
	if err := persist(ctx); err != nil {
		return Project{}, err
	}
	if cfg.then != nil {
		cfg.then(project.Clone())
	}
	return project, nil
}

// lockProject acquires the lock of projectID and returns its release. The
// entry is removed once nobody holds or waits for it, so lookups of unknown
// IDs leave nothing behind.
func (s *ProjectStore) lockProject(projectID string) func() {
	s.lockMu.Lock()
	entry, ok := s.locks[projectID]
	if !ok {
		entry = &lockEntry{}
		s.locks[projectID] = entry
	}
	entry.refs++
	s.lockMu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.lockMu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, projectID)
		}
		s.lockMu.Unlock()
	}
}
