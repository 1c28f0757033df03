package store

import (
	"time"

	"codesync/api/internal/rbac"
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Collaborator struct {
	Principal string    `json:"username"`
	Role      rbac.Role `json:"role"`
}

type Project struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Owner         string         `json:"owner"`
	Code          string         `json:"code"`
	Collaborators []Collaborator `json:"collaborators"`
	History       History        `json:"history"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func (p Project) OwnerPrincipal() string {
	return p.Owner
}

func (p Project) CollaboratorRole(principal string) (rbac.Role, bool) {
	for _, collaborator := range p.Collaborators {
		if collaborator.Principal == principal {
			return collaborator.Role, true
		}
	}
	return "", false
}

// HasMember reports whether principal owns the project or collaborates on it.
func (p Project) HasMember(principal string) bool {
	if p.Owner == principal {
		return true
	}
	_, ok := p.CollaboratorRole(principal)
	return ok
}

// Clone returns a deep copy so callers never share slices with the store.
func (p Project) Clone() Project {
	out := p
	out.Collaborators = make([]Collaborator, 0, len(p.Collaborators))
	out.Collaborators = append(out.Collaborators, p.Collaborators...)
	out.History = p.History.clone()
	return out
}
