package auth

import (
	"fmt"
	"strings"
)

// Principal is an authenticated user with resolved role rows.
type Principal struct {
	UserID         string
	OrganizationID string
	IsOwner        bool
	Roles          []UserRole
}

// Requirement declares what a protected operation demands: a set of acceptable
// roles, a single (action, resource) permission pair, or nothing.
type Requirement struct {
	Roles    []Role
	Action   string
	Resource string
}

// RequireRoles builds a role requirement.
func RequireRoles(roles ...Role) Requirement {
	return Requirement{Roles: roles}
}

// RequirePermission builds a permission requirement.
func RequirePermission(action, resource string) Requirement {
	return Requirement{Action: action, Resource: resource}
}

// IsZero reports whether the requirement demands nothing.
func (r Requirement) IsZero() bool {
	return len(r.Roles) == 0 && r.Action == "" && r.Resource == ""
}

// Scope carries the request fields consulted when resolving the target
// department. The literal `id` path parameter is kept as a fallback even for
// routes where it names a different resource; callers relying on it should
// know their route shape.
type Scope struct {
	BodyDepartmentID  string
	PathDepartmentID  string
	PathID            string
	QueryDepartmentID string
}

// DepartmentID resolves the target department once per request. The first
// non-empty value wins, in order: body, path departmentId, path id, query.
// Empty means the request is unscoped.
func (s Scope) DepartmentID() string {
	for _, v := range []string{s.BodyDepartmentID, s.PathDepartmentID, s.PathID, s.QueryDepartmentID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Engine grants or denies actions based on department-scoped roles and the
// permission reference table. Decisions are pure functions of their inputs;
// the engine holds no mutable state and is safe for concurrent use.
type Engine struct {
	perms *PermissionTable
}

// NewEngine builds an engine over an immutable permission table.
func NewEngine(perms *PermissionTable) *Engine {
	if perms == nil {
		perms = NewPermissionTable(nil)
	}
	return &Engine{perms: perms}
}

// Authorize returns nil when the principal may perform the operation, and a
// terminal denial otherwise. Denials are never retried by the engine.
func (e *Engine) Authorize(principal *Principal, req Requirement, scope Scope) error {
	if req.IsZero() {
		return nil
	}
	if principal == nil || principal.UserID == "" {
		return ErrAuthenticationRequired
	}
	if principal.IsOwner {
		return nil
	}

	applicable := applicableRoles(principal.Roles, scope.DepartmentID())

	if len(req.Roles) > 0 {
		for _, have := range applicable {
			for _, want := range req.Roles {
				if have == want {
					return nil
				}
			}
		}
		return fmt.Errorf("%w: insufficient role for this department", ErrForbidden)
	}

	if len(applicable) == 0 {
		return fmt.Errorf("%w: no role in this department", ErrForbidden)
	}
	for _, role := range applicable {
		if e.perms.Allows(req.Action, req.Resource, role) {
			return nil
		}
	}
	return fmt.Errorf("%w: permission denied: %s on %s", ErrForbidden, req.Action, req.Resource)
}

// applicableRoles narrows the principal's role rows to the resolved
// department. An unscoped request keeps all rows.
func applicableRoles(rows []UserRole, departmentID string) []Role {
	out := make([]Role, 0, len(rows))
	for _, row := range rows {
		if departmentID == "" || row.DepartmentID == departmentID {
			out = append(out, row.Role)
		}
	}
	return out
}
