package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no matching catalog row exists.
var ErrNotFound = errors.New("permission catalog entry not found")

// Store is the read-only lookup surface the resolver consumes. Unknown
// application or study ids yield empty results, not errors, so existence
// cannot be probed through error messages.
type Store interface {
	// LookupAccessGroupsFor returns the access groups the account belongs
	// to, restricted to the given application. Archived groups are excluded
	// unless includeArchived is set.
	LookupAccessGroupsFor(ctx context.Context, accountID int64, application string, includeArchived bool) ([]AccessGroup, error)

	// LookupRoleFor returns the single role assigned to the account for the
	// study, or nil when there is none or the study is archived (unless
	// includeArchived is set).
	LookupRoleFor(ctx context.Context, accountID int64, studyID int64, includeArchived bool) (*Role, error)

	// LookupPermissionCatalogEntry fetches one catalog pair.
	LookupPermissionCatalogEntry(ctx context.Context, action, resource string) (*Permission, error)
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed permission store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// LookupAccessGroupsFor returns the account's access groups for an application
func (s *SQLStore) LookupAccessGroupsFor(ctx context.Context, accountID int64, application string, includeArchived bool) ([]AccessGroup, error) {
	query := `
		SELECT g.id, g.name, g.application, g.archived, g.created_at
		FROM access_groups g
		JOIN account_access_groups ag ON ag.access_group_id = g.id
		WHERE ag.account_id = $1 AND g.application = $2
	`
	if !includeArchived {
		query += ` AND g.archived = FALSE`
	}

	rows, err := s.db.QueryContext(ctx, query, accountID, application)
	if err != nil {
		return nil, fmt.Errorf("query access groups: %w", err)
	}
	defer rows.Close()

	var groups []AccessGroup
	for rows.Next() {
		var g AccessGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Application, &g.Archived, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		perms, err := s.groupPermissions(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Permissions = perms
	}

	return groups, nil
}

// LookupRoleFor returns the role assigned to the account for a study
func (s *SQLStore) LookupRoleFor(ctx context.Context, accountID int64, studyID int64, includeArchived bool) (*Role, error) {
	query := `
		SELECT r.id, r.name, r.study_id, r.created_at
		FROM roles r
		JOIN account_study_roles sr ON sr.role_id = r.id
		JOIN studies s ON s.id = r.study_id
		WHERE sr.account_id = $1 AND r.study_id = $2
	`
	if !includeArchived {
		query += ` AND s.archived = FALSE`
	}

	var role Role
	err := s.db.QueryRowContext(ctx, query, accountID, studyID).
		Scan(&role.ID, &role.Name, &role.StudyID, &role.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // no role is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("query study role: %w", err)
	}

	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms

	return &role, nil
}

// LookupPermissionCatalogEntry fetches one catalog pair
func (s *SQLStore) LookupPermissionCatalogEntry(ctx context.Context, action, resource string) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx, `
		SELECT action, resource FROM permissions WHERE action = $1 AND resource = $2
	`, action, resource).Scan(&p.Action, &p.Resource)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query permission: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) groupPermissions(ctx context.Context, groupID int64) ([]Permission, error) {
	return s.scanPermissions(ctx, `
		SELECT p.action, p.resource
		FROM permissions p
		JOIN access_group_permissions gp ON gp.permission_id = p.id
		WHERE gp.access_group_id = $1
	`, groupID)
}

func (s *SQLStore) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.scanPermissions(ctx, `
		SELECT p.action, p.resource
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
	`, roleID)
}

func (s *SQLStore) scanPermissions(ctx context.Context, query string, id int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Action, &p.Resource); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
