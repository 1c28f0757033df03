package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"codesync/api/internal/archive"
	"codesync/api/internal/auth"
	"codesync/api/internal/authpw"
	"codesync/api/internal/config"
	"codesync/api/internal/room"
	"codesync/api/internal/store"
)

const testSecret = "test-secret"

type testEnv struct {
	svc  *Service
	hub  *room.Hub
	repo store.Repository
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:    testSecret,
		AccessTTL:    time.Hour,
		ShareTTL:     24 * time.Hour,
		FrontendURL:  "http://frontend.test/",
		CORSOrigin:   "*",
		LiveEditEcho: true,
		ClientQueue:  64,
	}
}

func newTestEnv(t *testing.T, adjust ...func(*config.Config)) *testEnv {
	t.Helper()
	return newTestEnvWithRepo(t, store.NewMemoryRepository(), nil, adjust...)
}

func newTestEnvWithRepo(t *testing.T, repo store.Repository, mirror *archive.GitMirror, adjust ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range adjust {
		fn(&cfg)
	}
	hub := room.NewHub()
	t.Cleanup(hub.Close)
	users := authpw.NewService(store.NewMemoryRepository(), cfg.JWTSecret, cfg.AccessTTL)
	svc := New(cfg, store.NewProjectStore(repo), users, hub, mirror)
	t.Cleanup(svc.Close)
	return &testEnv{svc: svc, hub: hub, repo: repo}
}

func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), "usr_"+username, username, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func (e *testEnv) connect(t *testing.T, username, projectID string) *room.Client {
	t.Helper()
	client, err := e.svc.Connect(Session{Username: username})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if projectID != "" {
		if err := e.svc.JoinProject(context.Background(), client, projectID); err != nil {
			t.Fatalf("JoinProject() error = %v", err)
		}
	}
	return client
}

func as(username string) Session {
	return Session{Username: username}
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	_, code, _, _ := mapError(err)
	return code
}

func nextMessage(t *testing.T, c *room.Client) room.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("client %s queue closed", c.ID)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
	}
	return room.Message{}
}

func assertSilent(t *testing.T, c *room.Client) {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if ok {
			t.Fatalf("client %s received unexpected %+v", c.ID, msg)
		}
	default:
	}
}

func createProject(t *testing.T, e *testEnv, owner, name string) store.Project {
	t.Helper()
	project, err := e.svc.CreateProject(context.Background(), as(owner), name)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return project
}

func TestDemoScenario(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := as("alice")
	project := createProject(t, e, "alice", "Demo")

	if _, err := e.svc.Commit(ctx, alice, project.ID, "init"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := e.svc.Push(ctx, alice, project.ID, "print(1)", "add print"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	pulled, err := e.svc.Pull(ctx, alice, project.ID)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(pulled.History) != 2 || pulled.Code != "print(1)" {
		t.Fatalf("after push: code=%q history=%d", pulled.Code, len(pulled.History))
	}

	reverted, err := e.svc.Revert(ctx, alice, project.ID, 0)
	if err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if reverted.Code != "" || reverted.History.Len() != 2 {
		t.Fatalf("after revert: code=%q history=%d", reverted.Code, reverted.History.Len())
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.CreateProject(context.Background(), as("alice"), "   ")
	if errorCode(err) != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestNonMemberIsDenied(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	mallory := as("mallory")

	checks := map[string]error{}
	_, checks["commit"] = e.svc.Commit(ctx, mallory, project.ID, "m")
	_, checks["push"] = e.svc.Push(ctx, mallory, project.ID, "x", "m")
	_, checks["revert"] = e.svc.Revert(ctx, mallory, project.ID, 0)
	checks["addCollaborator"] = e.svc.AddCollaborator(ctx, mallory, project.ID, "eve", "editor")
	_, checks["get"] = e.svc.GetProject(ctx, mallory, project.ID)
	_, checks["pull"] = e.svc.Pull(ctx, mallory, project.ID)
	_, checks["history"] = e.svc.History(ctx, mallory, project.ID)
	_, checks["share"] = e.svc.CreateShareLink(ctx, mallory, project.ID)

	for op, err := range checks {
		if errorCode(err) != "ACCESS_DENIED" {
			t.Errorf("%s: expected ACCESS_DENIED, got %v", op, err)
		}
	}

	current, err := e.svc.GetProject(ctx, as("alice"), project.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if current.Code != "" || current.History.Len() != 0 || len(current.Collaborators) != 0 {
		t.Fatalf("denied calls changed the project: %+v", current)
	}
}

func TestRoleMatrix(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	if err := e.svc.AddCollaborator(ctx, as("alice"), project.ID, "bob", "editor"); err != nil {
		t.Fatalf("AddCollaborator(bob) error = %v", err)
	}
	if err := e.svc.AddCollaborator(ctx, as("alice"), project.ID, "carol", "viewer"); err != nil {
		t.Fatalf("AddCollaborator(carol) error = %v", err)
	}

	if _, err := e.svc.Push(ctx, as("bob"), project.ID, "by bob", "edit"); err != nil {
		t.Fatalf("editor push error = %v", err)
	}
	if _, err := e.svc.Commit(ctx, as("bob"), project.ID, "checkpoint"); err != nil {
		t.Fatalf("editor commit error = %v", err)
	}
	if _, err := e.svc.Revert(ctx, as("bob"), project.ID, 0); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("editor revert: expected ACCESS_DENIED, got %v", err)
	}
	if err := e.svc.AddCollaborator(ctx, as("bob"), project.ID, "dave", "viewer"); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("editor addCollaborator: expected ACCESS_DENIED, got %v", err)
	}

	if _, err := e.svc.Push(ctx, as("carol"), project.ID, "by carol", "edit"); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("viewer push: expected ACCESS_DENIED, got %v", err)
	}
	pulled, err := e.svc.Pull(ctx, as("carol"), project.ID)
	if err != nil {
		t.Fatalf("viewer pull error = %v", err)
	}
	if pulled.Code != "by bob" {
		t.Fatalf("viewer pulled %q", pulled.Code)
	}

	listed, err := e.svc.ListProjects(ctx, as("carol"))
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != project.ID {
		t.Fatalf("ListProjects(carol) = %+v", listed)
	}
}

func TestAddCollaboratorErrors(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	alice := as("alice")

	if err := e.svc.AddCollaborator(ctx, alice, project.ID, "bob", "admin"); errorCode(err) != "INVALID_INPUT" {
		t.Fatalf("bad role: expected INVALID_INPUT, got %v", err)
	}
	if err := e.svc.AddCollaborator(ctx, alice, project.ID, "", "editor"); errorCode(err) != "INVALID_INPUT" {
		t.Fatalf("missing username: expected INVALID_INPUT, got %v", err)
	}
	if err := e.svc.AddCollaborator(ctx, alice, project.ID, "bob", "editor"); err != nil {
		t.Fatalf("AddCollaborator() error = %v", err)
	}
	if err := e.svc.AddCollaborator(ctx, alice, project.ID, "bob", "viewer"); errorCode(err) != "ALREADY_EXISTS" {
		t.Fatalf("duplicate: expected ALREADY_EXISTS, got %v", err)
	}
	if err := e.svc.AddCollaborator(ctx, alice, project.ID, "alice", "editor"); errorCode(err) != "ALREADY_EXISTS" {
		t.Fatalf("owner: expected ALREADY_EXISTS, got %v", err)
	}
}

func TestMissingProjectIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if _, err := e.svc.GetProject(ctx, as("alice"), "prj_missing"); errorCode(err) != "NOT_FOUND" {
		t.Fatalf("get: expected NOT_FOUND, got %v", err)
	}
	if _, err := e.svc.Push(ctx, as("alice"), "prj_missing", "x", "m"); errorCode(err) != "NOT_FOUND" {
		t.Fatalf("push: expected NOT_FOUND, got %v", err)
	}
}

func TestRevertOutOfRange(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := as("alice")
	project := createProject(t, e, "alice", "Demo")
	if _, err := e.svc.Push(ctx, alice, project.ID, "v1", "first"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	for _, index := range []int{-1, 1, 99} {
		if _, err := e.svc.Revert(ctx, alice, project.ID, index); errorCode(err) != "INVALID_INPUT" {
			t.Fatalf("Revert(%d): expected INVALID_INPUT, got %v", index, err)
		}
	}
	current, _ := e.svc.GetProject(ctx, alice, project.ID)
	if current.Code != "v1" || current.History.Len() != 1 {
		t.Fatalf("state changed: code=%q history=%d", current.Code, current.History.Len())
	}
}

func TestCommitAndPushRequireMessage(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	if _, err := e.svc.Commit(ctx, as("alice"), project.ID, ""); errorCode(err) != "INVALID_INPUT" {
		t.Fatalf("commit: expected INVALID_INPUT, got %v", err)
	}
	if _, err := e.svc.Push(ctx, as("alice"), project.ID, "x", " "); errorCode(err) != "INVALID_INPUT" {
		t.Fatalf("push: expected INVALID_INPUT, got %v", err)
	}
}

func TestNonMemberWithEmptyMessageIsDenied(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")

	if _, err := e.svc.Commit(ctx, as("mallory"), project.ID, ""); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("Commit() expected ACCESS_DENIED, got %v", err)
	}
	if _, err := e.svc.Push(ctx, as("mallory"), project.ID, "x", "  "); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("Push() expected ACCESS_DENIED, got %v", err)
	}
	if _, err := e.svc.Commit(ctx, as("alice"), project.ID, ""); errorCode(err) != "INVALID_INPUT" {
		t.Fatalf("owner Commit() expected INVALID_INPUT, got %v", err)
	}
}

func TestPushAndRevertReachWholeRoom(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := as("alice")
	project := createProject(t, e, "alice", "Demo")

	members := []*room.Client{
		e.connect(t, "alice", project.ID),
		e.connect(t, "bob", project.ID),
		e.connect(t, "carol", project.ID),
	}
	elsewhere := e.connect(t, "dave", "prj_other")

	if _, err := e.svc.Push(ctx, alice, project.ID, "v1", "first"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	for _, c := range members {
		msg := nextMessage(t, c)
		if msg.Event != EventCodeUpdate || msg.ProjectID != project.ID || msg.Payload != "v1" {
			t.Fatalf("push broadcast = %+v", msg)
		}
	}

	if _, err := e.svc.Revert(ctx, alice, project.ID, 0); err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	for _, c := range members {
		if msg := nextMessage(t, c); msg.Payload != "" {
			t.Fatalf("revert broadcast = %+v", msg)
		}
	}
	assertSilent(t, elsewhere)
}

func TestCommitDoesNotBroadcast(t *testing.T) {
	e := newTestEnv(t)
	project := createProject(t, e, "alice", "Demo")
	member := e.connect(t, "alice", project.ID)
	if _, err := e.svc.Commit(context.Background(), as("alice"), project.ID, "init"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	assertSilent(t, member)
}

func TestLiveEditEchoesToSenderByDefault(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	sender := e.connect(t, "alice", project.ID)
	others := []*room.Client{e.connect(t, "bob", project.ID), e.connect(t, "carol", project.ID)}

	if err := e.svc.LiveEdit(ctx, sender, project.ID, "typing"); err != nil {
		t.Fatalf("LiveEdit() error = %v", err)
	}
	for _, c := range append(others, sender) {
		if msg := nextMessage(t, c); msg.Payload != "typing" {
			t.Fatalf("live edit broadcast = %+v", msg)
		}
	}

	current, _ := e.svc.GetProject(ctx, as("alice"), project.ID)
	if current.Code != "typing" || current.History.Len() != 0 {
		t.Fatalf("live edit state: code=%q history=%d", current.Code, current.History.Len())
	}
}

func TestLiveEditWithoutEchoSkipsSender(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) { cfg.LiveEditEcho = false })
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	sender := e.connect(t, "alice", project.ID)
	others := []*room.Client{e.connect(t, "bob", project.ID), e.connect(t, "carol", project.ID)}

	if err := e.svc.LiveEdit(ctx, sender, project.ID, "typing"); err != nil {
		t.Fatalf("LiveEdit() error = %v", err)
	}
	for _, c := range others {
		nextMessage(t, c)
	}
	assertSilent(t, sender)
}

func TestLiveEditRequiresJoin(t *testing.T) {
	e := newTestEnv(t)
	project := createProject(t, e, "alice", "Demo")
	client := e.connect(t, "alice", "")
	if err := e.svc.LiveEdit(context.Background(), client, project.ID, "x"); errorCode(err) != "NOT_JOINED" {
		t.Fatalf("expected NOT_JOINED, got %v", err)
	}
	if err := e.svc.CursorUpdate(client, project.ID, json.RawMessage(`{}`)); errorCode(err) != "NOT_JOINED" {
		t.Fatalf("cursor: expected NOT_JOINED, got %v", err)
	}
}

func TestLiveEditHasNoRoleCheckByDefault(t *testing.T) {
	e := newTestEnv(t)
	project := createProject(t, e, "alice", "Demo")
	stranger := e.connect(t, "mallory", project.ID)
	if err := e.svc.LiveEdit(context.Background(), stranger, project.ID, "anyone can type"); err != nil {
		t.Fatalf("LiveEdit() error = %v", err)
	}
}

func TestLiveEditRoleCheckWhenConfigured(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) { cfg.LiveEditRequiresRole = true })
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	owner := e.connect(t, "alice", project.ID)
	stranger := e.connect(t, "mallory", project.ID)

	if err := e.svc.LiveEdit(ctx, stranger, project.ID, "x"); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED, got %v", err)
	}
	assertSilent(t, owner)
	if err := e.svc.LiveEdit(ctx, owner, project.ID, "ok"); err != nil {
		t.Fatalf("owner LiveEdit() error = %v", err)
	}
}

func TestJoinAccessCheckWhenConfigured(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) { cfg.JoinRequiresAccess = true })
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	stranger, err := e.svc.Connect(as("mallory"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := e.svc.JoinProject(ctx, stranger, project.ID); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED, got %v", err)
	}
	if stranger.Room() != "" {
		t.Fatalf("denied join changed room to %q", stranger.Room())
	}
}

func TestCursorUpdateSkipsSenderAndIsNotPersisted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	sender := e.connect(t, "alice", project.ID)
	others := []*room.Client{e.connect(t, "bob", project.ID), e.connect(t, "carol", project.ID)}

	cursor := json.RawMessage(`{"line":4,"ch":2}`)
	if err := e.svc.CursorUpdate(sender, project.ID, cursor); err != nil {
		t.Fatalf("CursorUpdate() error = %v", err)
	}
	for _, c := range others {
		msg := nextMessage(t, c)
		if msg.Event != EventCursorUpdate {
			t.Fatalf("cursor broadcast = %+v", msg)
		}
	}
	assertSilent(t, sender)

	current, _ := e.svc.GetProject(ctx, as("alice"), project.ID)
	if current.Code != "" {
		t.Fatalf("cursor update changed code to %q", current.Code)
	}
}

type failingCodeRepo struct {
	*store.MemoryRepository
}

func (f failingCodeRepo) UpdateCode(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestLiveEditFailureDoesNotBroadcast(t *testing.T) {
	e := newTestEnvWithRepo(t, failingCodeRepo{store.NewMemoryRepository()}, nil)
	project := createProject(t, e, "alice", "Demo")
	sender := e.connect(t, "alice", project.ID)
	other := e.connect(t, "bob", project.ID)

	err := e.svc.LiveEdit(context.Background(), sender, project.ID, "lost")
	if errorCode(err) != "SERVER_ERROR" {
		t.Fatalf("expected SERVER_ERROR, got %v", err)
	}
	assertSilent(t, sender)
	assertSilent(t, other)
}

func TestDisconnectStopsDelivery(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	gone := e.connect(t, "bob", project.ID)
	stays := e.connect(t, "alice", project.ID)

	e.svc.Disconnect(gone)
	if _, err := e.svc.Push(ctx, as("alice"), project.ID, "v1", "first"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	nextMessage(t, stays)
	if members := e.hub.Members(project.ID); len(members) != 1 || members[0] != stays.ID {
		t.Fatalf("members = %v", members)
	}
}

func TestShareLinkLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	if _, err := e.svc.Push(ctx, as("alice"), project.ID, "shared code", "first"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	link, err := e.svc.CreateShareLink(ctx, as("alice"), project.ID)
	if err != nil {
		t.Fatalf("CreateShareLink() error = %v", err)
	}
	if link.URL != "http://frontend.test/view/"+link.Token {
		t.Fatalf("unexpected URL %q", link.URL)
	}

	shared, err := e.svc.ResolveShareLink(ctx, link.Token)
	if err != nil {
		t.Fatalf("ResolveShareLink() error = %v", err)
	}
	if shared.Name != "Demo" || shared.Code != "shared code" || len(shared.History) != 1 {
		t.Fatalf("unexpected shared project %+v", shared)
	}

	// resolves to the current state, not the state at issue time
	if _, err := e.svc.Push(ctx, as("alice"), project.ID, "newer", "second"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	shared, _ = e.svc.ResolveShareLink(ctx, link.Token)
	if shared.Code != "newer" || len(shared.History) != 2 {
		t.Fatalf("share link returned stale state %+v", shared)
	}

	tampered := tamperPayload(link.Token)
	if _, err := e.svc.ResolveShareLink(ctx, tampered); errorCode(err) != "EXPIRED_OR_INVALID_TOKEN" {
		t.Fatalf("tampered: expected EXPIRED_OR_INVALID_TOKEN, got %v", err)
	}
	accessToken := e.token(t, "alice")
	if _, err := e.svc.ResolveShareLink(ctx, accessToken); errorCode(err) != "EXPIRED_OR_INVALID_TOKEN" {
		t.Fatalf("access token: expected EXPIRED_OR_INVALID_TOKEN, got %v", err)
	}
}

// tamperPayload flips one character of the claims segment.
func tamperPayload(token string) string {
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[5] == 'A' {
		payload[5] = 'B'
	} else {
		payload[5] = 'A'
	}
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}

func TestExpiredShareLink(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, e, "alice", "Demo")
	e.svc.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }

	link, err := e.svc.CreateShareLink(ctx, as("alice"), project.ID)
	if err != nil {
		t.Fatalf("CreateShareLink() error = %v", err)
	}
	if _, err := e.svc.ResolveShareLink(ctx, link.Token); errorCode(err) != "EXPIRED_OR_INVALID_TOKEN" {
		t.Fatalf("expected EXPIRED_OR_INVALID_TOKEN, got %v", err)
	}
}

func TestArchiveMirrorsSnapshots(t *testing.T) {
	mirror := archive.New(t.TempDir())
	e := newTestEnvWithRepo(t, store.NewMemoryRepository(), mirror)
	ctx := context.Background()
	alice := as("alice")
	project := createProject(t, e, "alice", "Demo")

	entries, err := e.svc.ArchiveHistory(ctx, alice, project.ID, 0)
	if err != nil {
		t.Fatalf("ArchiveHistory() before snapshots error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty archive, got %+v", entries)
	}

	if _, err := e.svc.Commit(ctx, alice, project.ID, "init"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := e.svc.Push(ctx, alice, project.ID, "print(1)", "add print"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	e.svc.writer.Flush()
	entries, err = e.svc.ArchiveHistory(ctx, alice, project.ID, 0)
	if err != nil {
		t.Fatalf("ArchiveHistory() error = %v", err)
	}
	if len(entries) != 2 || !strings.HasPrefix(entries[0].Message, "add print") {
		t.Fatalf("unexpected archive %+v", entries)
	}
	if entries[0].Author != "alice" {
		t.Fatalf("unexpected author %q", entries[0].Author)
	}
	// the push snapshot holds the pre-push code
	snapshot, err := e.svc.ArchivedSnapshot(ctx, alice, project.ID, entries[0].Hash)
	if err != nil {
		t.Fatalf("ArchivedSnapshot() error = %v", err)
	}
	if snapshot.Code != "" || snapshot.Hash != entries[0].Hash {
		t.Fatalf("mirrored push snapshot = %+v, want pre-push code", snapshot)
	}
	if _, err := e.svc.ArchivedSnapshot(ctx, alice, project.ID, "0000000"); errorCode(err) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for unknown hash, got %v", err)
	}
	if _, err := e.svc.ArchivedSnapshot(ctx, as("mallory"), project.ID, entries[0].Hash); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED, got %v", err)
	}

	if _, err := e.svc.ArchiveHistory(ctx, as("mallory"), project.ID, 0); errorCode(err) != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED, got %v", err)
	}
}

func TestArchiveDisabled(t *testing.T) {
	e := newTestEnv(t)
	project := createProject(t, e, "alice", "Demo")
	if _, err := e.svc.ArchiveHistory(context.Background(), as("alice"), project.ID, 0); errorCode(err) != "ARCHIVE_DISABLED" {
		t.Fatalf("expected ARCHIVE_DISABLED, got %v", err)
	}
}

func TestConnectAfterHubClose(t *testing.T) {
	e := newTestEnv(t)
	e.hub.Close()
	if _, err := e.svc.Connect(as("alice")); errorCode(err) != "UNAVAILABLE" {
		t.Fatalf("expected UNAVAILABLE, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	e := newTestEnv(t)
	session, err := e.svc.Authenticate(e.token(t, "alice"))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if session.Username != "alice" || session.UserID != "usr_alice" {
		t.Fatalf("unexpected session %+v", session)
	}
	if _, err := e.svc.Authenticate("garbage"); errorCode(err) != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}
