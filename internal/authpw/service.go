// Package authpw provides username/password registration and login.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codesync/api/internal/auth"
	"codesync/api/internal/store"
	"codesync/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("username and password are required")
	ErrUserExists         = errors.New("user exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service provides username/password authentication
type Service struct {
	store     store.UserRepository
	secret    []byte
	accessTTL time.Duration
	cost      int
	now       func() time.Time
}

// NewService creates a new auth service
func NewService(users store.UserRepository, tokenSecret string, accessTTL time.Duration) *Service {
	return &Service{
		store:     users,
		secret:    []byte(tokenSecret),
		accessTTL: accessTTL,
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
	}
}

// LoginResponse contains the issued access token
type LoginResponse struct {
	Token     string
	User      store.User
	ExpiresAt time.Time
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidInput
	}

	// Check if username already exists
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return store.User{}, ErrUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	// Hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, ErrUserExists
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues an access token
func (s *Service) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResponse{}, ErrInvalidInput
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		// Same answer for unknown users and bad passwords
		return LoginResponse{}, ErrInvalidCredentials
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResponse{}, ErrInvalidCredentials
	}

	issuedAt := s.now()
	token, err := auth.IssueToken(s.secret, user.ID, user.Username, issuedAt, s.accessTTL)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		Token:     token,
		User:      user,
		ExpiresAt: issuedAt.Add(s.accessTTL),
	}, nil
}
