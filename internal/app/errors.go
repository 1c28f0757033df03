package app

import (
	"errors"
	"fmt"
	"net/http"

	"codesync/api/internal/archive"
	"codesync/api/internal/auth"
	"codesync/api/internal/authpw"
	"codesync/api/internal/rbac"
	"codesync/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errAccessDenied = domainError(http.StatusForbidden, "ACCESS_DENIED", "Access denied", nil)
	errNotJoined    = domainError(http.StatusConflict, "NOT_JOINED", "Join the project before editing it", nil)
	errShareToken   = domainError(http.StatusBadRequest, "EXPIRED_OR_INVALID_TOKEN", "Share link is expired or invalid", nil)
	errUnavailable  = domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "Server is shutting down", nil)

	errArchiveDisabled = domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "History archive is not configured", nil)
)

func invalidInput(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_INPUT", message, nil)
}

// mapError turns errors from the lower packages into the wire error shape.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Project not found", nil
	case errors.Is(err, archive.ErrUnknownRevision), errors.Is(err, archive.ErrNoArchive):
		return http.StatusNotFound, "NOT_FOUND", "Archive revision not found", nil
	case errors.Is(err, store.ErrOutOfRange):
		return http.StatusUnprocessableEntity, "INVALID_INPUT", "Version index out of range", nil
	case errors.Is(err, rbac.ErrInvalidRole):
		return http.StatusUnprocessableEntity, "INVALID_INPUT", "Role must be editor or viewer", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "ALREADY_EXISTS", "Already a member of this project", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "INVALID_INPUT", "Username and password are required", nil
	case errors.Is(err, authpw.ErrUserExists):
		return http.StatusConflict, "ALREADY_EXISTS", "Username already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
