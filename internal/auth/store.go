package auth

import "context"

// Store describes persistence required by the identity and token subsystem.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	Users(ctx context.Context) UserStore
	Departments(ctx context.Context) DepartmentStore
	UserRoles(ctx context.Context) UserRoleStore
	Permissions(ctx context.Context) PermissionStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// OrganizationStore manages tenants.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// DepartmentStore manages departments.
type DepartmentStore interface {
	Create(ctx context.Context, d *Department) error
	Find(ctx context.Context, id string) (*Department, error)
	ListByOrg(ctx context.Context, orgID string) ([]Department, error)
}

// UserRoleStore manages role grants.
type UserRoleStore interface {
	Assign(ctx context.Context, row *UserRole) error
	ListByUser(ctx context.Context, userID string) ([]UserRole, error)
	Remove(ctx context.Context, id string) error
}

// PermissionStore manages the read-only permission reference table.
type PermissionStore interface {
	Ensure(ctx context.Context, rules []PermissionRule) error
	List(ctx context.Context) ([]PermissionRule, error)
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}
