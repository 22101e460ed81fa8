package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is a department-scoped or organization-wide role value.
type Role string

const (
	// RoleOwner is organization-wide and bypasses all department checks.
	RoleOwner Role = "OWNER"
	// RoleAdmin and RoleViewer are always scoped to a department.
	RoleAdmin  Role = "ADMIN"
	RoleViewer Role = "VIEWER"
)

// ParseRole normalizes and validates a role value.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// Organization is a tenant.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User belongs to exactly one organization. The owner flag is orthogonal to
// role rows: an owner bypasses all checks regardless of rows present.
type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	IsOwner        bool      `json:"is_owner"`
	PasswordHash   string    `json:"-"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Department groups tasks inside an organization.
type Department struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserRole is one role grant. OWNER rows carry an empty DepartmentID;
// ADMIN/VIEWER rows always carry a department.
type UserRole struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	DepartmentID string    `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PermissionRule is one row of the read-only permission reference table:
// presence means "role may perform action on resource".
type PermissionRule struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Role     Role   `json:"role"`
}

// RefreshToken is the persisted half of an issued refresh credential.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// TokenPair is an atomically issued access/refresh credential pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
