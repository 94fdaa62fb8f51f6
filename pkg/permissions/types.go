package permissions

import "time"

// Wildcard matches any action or resource when it appears on that side of
// a permission.
const Wildcard = "*"

// Permission is an ordered (action, resource) pair. The catalog is
// append-only: once created, a permission's pair never changes.
type Permission struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return p.Action + ":" + p.Resource
}

// AccessGroup is a named bundle of permissions scoped to one application.
// An archived group grants nothing; rows are filtered at read time, never
// deleted.
type AccessGroup struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Application string       `json:"application"`
	Archived    bool         `json:"archived"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Study scopes roles. An archived study contributes no role permissions.
type Study struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
}

// Role is a named bundle of permissions scoped to a study, assigned to a
// researcher per (account, study) pair. One role per account per study.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	StudyID     int64        `json:"study_id"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
}

// PermissionSet is the effective permission set resolved for a principal.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from explicit permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Add inserts the permissions into the set
func (s PermissionSet) Add(perms ...Permission) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Contains reports whether the exact pair is present
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Allows evaluates an (action, resource) ask with wildcard precedence:
// exact pair, then (action, *), then (*, resource), then (*, *). Order only
// short-circuits; any single match suffices.
func (s PermissionSet) Allows(action, resource string) bool {
	candidates := [4]Permission{
		{Action: action, Resource: resource},
		{Action: action, Resource: Wildcard},
		{Action: Wildcard, Resource: resource},
		{Action: Wildcard, Resource: Wildcard},
	}
	for _, c := range candidates {
		if s.Contains(c) {
			return true
		}
	}
	return false
}

// List returns the set's permissions in unspecified order
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}
