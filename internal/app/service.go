package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"codesync/api/internal/archive"
	"codesync/api/internal/auth"
	"codesync/api/internal/authpw"
	"codesync/api/internal/config"
	"codesync/api/internal/metrics"
	"codesync/api/internal/rbac"
	"codesync/api/internal/room"
	"codesync/api/internal/store"
)

const (
	EventCodeUpdate   = "codeUpdate"
	EventCursorUpdate = "cursorUpdate"
	EventError        = "error"
)

// Session is the authenticated caller of an HTTP request or socket.
type Session struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

type PullResult struct {
	Code    string           `json:"code"`
	History []store.Snapshot `json:"history"`
}

type ShareLink struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SharedProject struct {
	Name    string           `json:"name"`
	Code    string           `json:"code"`
	History []store.Snapshot `json:"history"`
}

type ArchivedCode struct {
	Hash string `json:"hash"`
	Code string `json:"code"`
}

type archiver interface {
	History(projectID string, limit int) ([]archive.Entry, error)
	CodeAt(projectID, hash string) (string, error)
}

type Service struct {
	cfg      config.Config
	projects *store.ProjectStore
	users    *authpw.Service
	hub      *room.Hub
	archive  archiver
	writer   *archive.Writer
	secret   []byte
	now      func() time.Time
}

// New wires the service. mirror may be nil when no archive is configured.
func New(cfg config.Config, projects *store.ProjectStore, users *authpw.Service, hub *room.Hub, mirror *archive.GitMirror) *Service {
	s := &Service{
		cfg:      cfg,
		projects: projects,
		users:    users,
		hub:      hub,
		secret:   []byte(cfg.JWTSecret),
		now:      time.Now,
	}
	if mirror != nil {
		s.archive = mirror
		s.writer = archive.NewWriter(mirror)
	}
	return s
}

// Close waits for pending archive writes.
func (s *Service) Close() {
	if s.writer != nil {
		s.writer.Close()
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.projects.Ping(ctx)
}

func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	return s.users.Register(ctx, username, password)
}

func (s *Service) Login(ctx context.Context, username, password string) (authpw.LoginResponse, error) {
	return s.users.Login(ctx, username, password)
}

// Authenticate resolves a bearer token into a session.
func (s *Service) Authenticate(token string) (Session, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Session{}, err
	}
	session := Session{UserID: claims.Subject, Username: claims.Username}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, name string) (store.Project, error) {
	if strings.TrimSpace(name) == "" {
		return store.Project{}, invalidInput("name is required")
	}
	project, err := s.projects.Create(ctx, session.Username, name)
	metrics.Mutations.WithLabelValues("create", metrics.Outcome(err)).Inc()
	return project, err
}

func (s *Service) ListProjects(ctx context.Context, session Session) ([]store.Project, error) {
	return s.projects.ListFor(ctx, session.Username)
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	return s.readable(ctx, session, projectID)
}

func (s *Service) Pull(ctx context.Context, session Session, projectID string) (PullResult, error) {
	project, err := s.readable(ctx, session, projectID)
	if err != nil {
		return PullResult{}, err
	}
	return PullResult{Code: project.Code, History: project.History.All()}, nil
}

func (s *Service) History(ctx context.Context, session Session, projectID string) ([]store.Snapshot, error) {
	project, err := s.readable(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return project.History.All(), nil
}

// Commit snapshots the current code. The code itself does not change, so
// nothing is broadcast.
func (s *Service) Commit(ctx context.Context, session Session, projectID, message string) (int, error) {
	opts := []store.Option{
		store.WithGuard(allOf(requireRole(session.Username, rbac.CanMutate), requireMessage(message))),
		store.WithThen(func(project store.Project) {
			s.mirror(project, project.History.Len()-1, session.Username)
		}),
	}
	index, err := s.projects.Commit(ctx, projectID, message, opts...)
	metrics.Mutations.WithLabelValues("commit", metrics.Outcome(err)).Inc()
	return index, err
}

// Push snapshots the pre-push code, replaces it and sends the new code to
// the whole room.
func (s *Service) Push(ctx context.Context, session Session, projectID, newCode, message string) (int, error) {
	opts := []store.Option{
		store.WithGuard(allOf(requireRole(session.Username, rbac.CanMutate), requireMessage(message))),
		store.WithThen(func(project store.Project) {
			s.hub.Broadcast(project.ID, EventCodeUpdate, project.Code, "")
			s.mirror(project, project.History.Len()-1, session.Username)
		}),
	}
	index, err := s.projects.Push(ctx, projectID, newCode, message, opts...)
	metrics.Mutations.WithLabelValues("push", metrics.Outcome(err)).Inc()
	return index, err
}

// Revert restores the code of snapshot index and sends it to the whole room.
func (s *Service) Revert(ctx context.Context, session Session, projectID string, index int) (store.Project, error) {
	opts := []store.Option{
		store.WithGuard(requireRole(session.Username, rbac.CanRevert)),
		store.WithThen(func(project store.Project) {
			s.hub.Broadcast(project.ID, EventCodeUpdate, project.Code, "")
		}),
	}
	project, err := s.projects.Revert(ctx, projectID, index, opts...)
	metrics.Mutations.WithLabelValues("revert", metrics.Outcome(err)).Inc()
	return project, err
}

func (s *Service) AddCollaborator(ctx context.Context, session Session, projectID, username, role string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return invalidInput("username is required")
	}
	err := s.projects.AddCollaborator(ctx, projectID, username, role,
		store.WithGuard(requireRole(session.Username, rbac.CanManageCollaborators)))
	metrics.Mutations.WithLabelValues("add_collaborator", metrics.Outcome(err)).Inc()
	return err
}

func (s *Service) CreateShareLink(ctx context.Context, session Session, projectID string) (ShareLink, error) {
	if _, err := s.readable(ctx, session, projectID); err != nil {
		return ShareLink{}, err
	}
	issuedAt := s.now()
	token, err := auth.IssueShareToken(s.secret, projectID, issuedAt, s.cfg.ShareTTL)
	if err != nil {
		return ShareLink{}, err
	}
	return ShareLink{
		Token:     token,
		URL:       strings.TrimRight(s.cfg.FrontendURL, "/") + "/view/" + token,
		ExpiresAt: issuedAt.Add(s.cfg.ShareTTL),
	}, nil
}

// ResolveShareLink needs no session; the token is the credential.
func (s *Service) ResolveShareLink(ctx context.Context, token string) (SharedProject, error) {
	claims, err := auth.ParseShareToken(s.secret, token)
	if err != nil {
		return SharedProject{}, errShareToken
	}
	project, err := s.projects.Get(ctx, claims.ProjectID)
	if err != nil {
		return SharedProject{}, err
	}
	return SharedProject{Name: project.Name, Code: project.Code, History: project.History.All()}, nil
}

// ArchiveHistory lists the git mirror of a project, newest first.
func (s *Service) ArchiveHistory(ctx context.Context, session Session, projectID string, limit int) ([]archive.Entry, error) {
	if s.archive == nil {
		return nil, errArchiveDisabled
	}
	if _, err := s.readable(ctx, session, projectID); err != nil {
		return nil, err
	}
	entries, err := s.archive.History(projectID, limit)
	if errors.Is(err, archive.ErrNoArchive) {
		return []archive.Entry{}, nil
	}
	return entries, err
}

// ArchivedSnapshot returns the code mirrored by the archive commit hash.
func (s *Service) ArchivedSnapshot(ctx context.Context, session Session, projectID, hash string) (ArchivedCode, error) {
	if s.archive == nil {
		return ArchivedCode{}, errArchiveDisabled
	}
	if _, err := s.readable(ctx, session, projectID); err != nil {
		return ArchivedCode{}, err
	}
	code, err := s.archive.CodeAt(projectID, strings.TrimSpace(hash))
	if err != nil {
		return ArchivedCode{}, err
	}
	return ArchivedCode{Hash: hash, Code: code}, nil
}

// Connect opens a real-time session for an authenticated principal.
func (s *Service) Connect(session Session) (*room.Client, error) {
	client := room.NewClient(session.Username, s.cfg.ClientQueue)
	if !s.hub.Register(client) {
		return nil, errUnavailable
	}
	return client, nil
}

// JoinProject makes projectID the client's working room.
func (s *Service) JoinProject(ctx context.Context, client *room.Client, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return invalidInput("projectId is required")
	}
	if s.cfg.JoinRequiresAccess {
		if _, err := s.readable(ctx, Session{Username: client.Principal}, projectID); err != nil {
			return err
		}
	}
	s.hub.Join(client, projectID)
	return nil
}

func (s *Service) LeaveProject(client *room.Client, projectID string) {
	s.hub.Leave(client, projectID)
}

// LiveEdit persists newCode without a snapshot and sends it to the room. The
// sender is included unless the echo is switched off. Nothing is sent when
// persistence fails.
func (s *Service) LiveEdit(ctx context.Context, client *room.Client, projectID, newCode string) error {
	if client.Room() != projectID || projectID == "" {
		return errNotJoined
	}
	exclude := ""
	if !s.cfg.LiveEditEcho {
		exclude = client.ID
	}
	opts := []store.Option{
		store.WithThen(func(project store.Project) {
			s.hub.Broadcast(project.ID, EventCodeUpdate, project.Code, exclude)
		}),
	}
	if s.cfg.LiveEditRequiresRole {
		opts = append(opts, store.WithGuard(requireRole(client.Principal, rbac.CanMutate)))
	}
	_, err := s.projects.LiveEdit(ctx, projectID, newCode, opts...)
	metrics.Mutations.WithLabelValues("live_edit", metrics.Outcome(err)).Inc()
	return err
}

// CursorUpdate relays cursorData to everyone else in the room. It is never
// persisted.
func (s *Service) CursorUpdate(client *room.Client, projectID string, cursorData json.RawMessage) error {
	if client.Room() != projectID || projectID == "" {
		return errNotJoined
	}
	s.hub.Broadcast(projectID, EventCursorUpdate, cursorData, client.ID)
	return nil
}

// Disconnect drops the client from its room. Mutations it already started
// finish normally.
func (s *Service) Disconnect(client *room.Client) {
	s.hub.Disconnect(client)
}

func (s *Service) readable(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if !rbac.CanRead(rbac.ResolveRole(session.Username, project)) {
		return store.Project{}, errAccessDenied
	}
	return project, nil
}

// mirror queues the snapshot for the archive writer. It runs under the
// project lock, so jobs are queued in admission order; the git write itself
// happens on the writer goroutine.
func (s *Service) mirror(project store.Project, index int, author string) {
	if s.writer == nil || index < 0 {
		return
	}
	snapshot, err := project.History.Get(index)
	if err != nil {
		return
	}
	job := archive.Job{
		ProjectID: project.ID,
		Index:     index,
		Code:      snapshot.Code,
		Message:   snapshot.Message,
		Author:    author,
		At:        snapshot.Timestamp,
	}
	if !s.writer.Submit(job) {
		log.Printf("archive: writer closed, dropping %s snapshot %d", project.ID, index)
	}
}

// requireMessage goes after requireRole in allOf: access is checked first.
func requireMessage(message string) store.Guard {
	return func(store.Project) error {
		if strings.TrimSpace(message) == "" {
			return invalidInput("message is required")
		}
		return nil
	}
}

func allOf(guards ...store.Guard) store.Guard {
	return func(project store.Project) error {
		for _, guard := range guards {
			if err := guard(project); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireRole(principal string, allowed func(rbac.Role) bool) store.Guard {
	return func(project store.Project) error {
		if !allowed(rbac.ResolveRole(principal, project)) {
			return errAccessDenied
		}
		return nil
	}
}
