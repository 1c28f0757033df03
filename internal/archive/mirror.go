// Package archive mirrors project history into one git repository per
// project so snapshots can be audited with ordinary git tooling.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const codeFile = "code.txt"

var (
	ErrNoArchive       = errors.New("project has no archive")
	ErrUnknownRevision = errors.New("unknown archive revision")
)

// Entry is one mirrored snapshot.
type Entry struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type GitMirror struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *GitMirror {
	return &GitMirror{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits code as snapshot number index. Every call produces a
// commit, including when the code did not change.
func (m *GitMirror) Record(projectID string, index int, code, message, author string, at time.Time) (Entry, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := m.openOrInit(projectID)
	if err != nil {
		return Entry{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, codeFile), []byte(code), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", codeFile, err)
	}
	if _, err := worktree.Add(codeFile); err != nil {
		return Entry{}, fmt.Errorf("git add code: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("%s\n\nsnapshot: %d", message, index), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.codesync.dev", sanitizeEmail(author)),
			When:  at,
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj), nil
}

// History lists mirrored snapshots newest first. limit <= 0 returns all.
func (m *GitMirror) History(projectID string, limit int) ([]Entry, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoArchive
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// CodeAt returns the code stored by the commit with the given hash prefix.
func (m *GitMirror) CodeAt(projectID, hash string) (string, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", ErrNoArchive
	}
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrUnknownRevision, hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(codeFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", codeFile, err)
	}
	return file.Contents()
}

func (m *GitMirror) openOrInit(projectID string) (*git.Repository, error) {
	path := m.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (m *GitMirror) repoPath(projectID string) string {
	return filepath.Join(m.baseDir, projectID)
}

func (m *GitMirror) projectLock(projectID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[projectID] = lock
	return lock
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
