package rbac

import "errors"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

var ErrInvalidRole = errors.New("invalid role")

// Membership is the owner and collaborator roster a role is resolved against.
type Membership interface {
	OwnerPrincipal() string
	CollaboratorRole(principal string) (Role, bool)
}

func ResolveRole(principal string, m Membership) Role {
	if principal == "" || m == nil {
		return RoleNone
	}
	if principal == m.OwnerPrincipal() {
		return RoleOwner
	}
	if role, ok := m.CollaboratorRole(principal); ok {
		switch role {
		case RoleEditor, RoleViewer:
			return role
		}
	}
	return RoleNone
}

func CanRead(role Role) bool {
	return role == RoleOwner || role == RoleEditor || role == RoleViewer
}

func CanMutate(role Role) bool {
	return role == RoleOwner || role == RoleEditor
}

func CanManageCollaborators(role Role) bool {
	return role == RoleOwner
}

// CanRevert is owner-only even though commit and push accept editors.
func CanRevert(role Role) bool {
	return role == RoleOwner
}

// ParseCollaboratorRole accepts only the roles that can be granted to a collaborator.
func ParseCollaboratorRole(value string) (Role, error) {
	switch Role(value) {
	case RoleEditor, RoleViewer:
		return Role(value), nil
	default:
		return "", ErrInvalidRole
	}
}
