package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codesync/api/internal/rbac"
)

// SQLRepository persists projects in Postgres (pgx) or SQLite. Queries are
// written with ? placeholders and rebound per dialect.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (s *SQLRepository) DB() *sql.DB {
	return s.db
}

func (s *SQLRepository) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *SQLRepository) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO projects (id, name, owner, code, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), project.ID, project.Name, project.Owner, project.Code, project.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *SQLRepository) GetProject(ctx context.Context, id string) (Project, error) {
	var (
		project   Project
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, owner, code, created_at FROM projects WHERE id=?`), id).
		Scan(&project.ID, &project.Name, &project.Owner, &project.Code, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("read project: %w", err)
	}
	project.CreatedAt = time.Unix(0, createdAt).UTC()

	collaborators, err := s.listCollaborators(ctx, id)
	if err != nil {
		return Project{}, err
	}
	project.Collaborators = collaborators

	history, err := s.listSnapshots(ctx, id)
	if err != nil {
		return Project{}, err
	}
	project.History = history
	return project, nil
}

func (s *SQLRepository) listCollaborators(ctx context.Context, projectID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT principal, role FROM project_collaborators
		WHERE project_id=?
		ORDER BY position
	`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var (
			item Collaborator
			role string
		)
		if err := rows.Scan(&item.Principal, &role); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		item.Role = rbac.Role(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

func (s *SQLRepository) listSnapshots(ctx context.Context, projectID string) (History, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT code, message, created_at FROM project_snapshots
		WHERE project_id=?
		ORDER BY seq
	`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	history := History{}
	for rows.Next() {
		var (
			item      Snapshot
			createdAt int64
		)
		if err := rows.Scan(&item.Code, &item.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		item.Timestamp = time.Unix(0, createdAt).UTC()
		history = append(history, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return history, nil
}

func (s *SQLRepository) ListProjectsFor(ctx context.Context, principal string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT p.id FROM projects p
		WHERE p.owner=?
			OR EXISTS (SELECT 1 FROM project_collaborators c WHERE c.project_id = p.id AND c.principal=?)
		ORDER BY p.created_at, p.id
	`), principal, principal)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	rows.Close()

	// rows are closed before the per-project reads; sqlite runs on one connection
	items := make([]Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, project)
	}
	return items, nil
}

func (s *SQLRepository) InsertCollaborator(ctx context.Context, projectID string, collaborator Collaborator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin collaborator tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM project_collaborators WHERE project_id=? AND principal=?`), projectID, collaborator.Principal).Scan(&existing); err != nil {
		return fmt.Errorf("check collaborator: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("insert collaborator %s: %w", collaborator.Principal, ErrDuplicate)
	}
	var position int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM project_collaborators WHERE project_id=?`), projectID).Scan(&position); err != nil {
		return fmt.Errorf("count collaborators: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO project_collaborators (project_id, principal, role, position)
		VALUES (?, ?, ?, ?)
	`), projectID, collaborator.Principal, string(collaborator.Role), position); err != nil {
		return fmt.Errorf("insert collaborator: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit collaborator: %w", err)
	}
	return nil
}

func (s *SQLRepository) AppendSnapshot(ctx context.Context, projectID string, index int, snapshot Snapshot, code *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO project_snapshots (project_id, seq, code, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), projectID, index, snapshot.Code, snapshot.Message, snapshot.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if code != nil {
		if err := updateCode(ctx, tx, s.q(`UPDATE projects SET code=? WHERE id=?`), projectID, *code); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLRepository) UpdateCode(ctx context.Context, projectID, code string) error {
	return updateCode(ctx, s.db, s.q(`UPDATE projects SET code=? WHERE id=?`), projectID, code)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateCode(ctx context.Context, db execer, query, projectID, code string) error {
	result, err := db.ExecContext(ctx, query, code, projectID)
	if err != nil {
		return fmt.Errorf("update code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update code rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLRepository) InsertUser(ctx context.Context, user User) error {
	var existing int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM users WHERE username=?`), user.Username).Scan(&existing); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("insert user %s: %w", user.Username, ErrDuplicate)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`), user.ID, user.Username, user.PasswordHash, user.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var (
		user      User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, username, password_hash, created_at FROM users WHERE username=?`), username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	user.CreatedAt = time.Unix(0, createdAt).UTC()
	return user, nil
}
