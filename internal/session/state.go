package session

import (
	"sync"

	"taskgrid.org/internal/auth"
)

// State is the client-side session snapshot. All writes go through the four
// mutators; reads are lock-protected copies. Loading starts true and is
// cleared by the first mutation, whichever it is.
type State struct {
	mu           sync.RWMutex
	user         *auth.User
	roles        []auth.UserRole
	accessToken  string
	refreshToken string
	loading      bool
	err          error
}

func NewState() *State {
	return &State{loading: true}
}

// SetAuthResponse installs the authenticated identity and its tokens.
func (s *State) SetAuthResponse(user *auth.User, roles []auth.UserRole, tokens Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.roles = append([]auth.UserRole(nil), roles...)
	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.err = nil
	s.loading = false
}

// SetTokens replaces the credential pair, keeping identity untouched.
func (s *State) SetTokens(tokens Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.loading = false
}

// SetError records a failure without dropping the session.
func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.loading = false
}

// ClearAuth drops identity, roles, tokens and any recorded error.
func (s *State) ClearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.roles = nil
	s.accessToken = ""
	s.refreshToken = ""
	s.err = nil
	s.loading = false
}

func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *State) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Authenticated reports whether an access token is held.
func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != ""
}

func (s *State) User() *auth.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *State) Roles() []auth.UserRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auth.UserRole(nil), s.roles...)
}

func (s *State) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Tokens{AccessToken: s.accessToken, RefreshToken: s.refreshToken}
}

// AccessToken returns the held access token, empty when unauthenticated.
func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// IsOwner reports whether the current user owns the organization.
func (s *State) IsOwner() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.IsOwner
}

// RoleInDepartment returns the user's role in a department. Owners have no
// per-department rows, so the result is nil for them; callers wanting the
// owner's effective power use the boolean queries instead.
func (s *State) RoleInDepartment(departmentID string) *auth.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil && s.user.IsOwner {
		return nil
	}
	for _, row := range s.roles {
		if row.DepartmentID == departmentID {
			role := row.Role
			return &role
		}
	}
	return nil
}

// IsAdminInDepartment is true for owners and department admins.
func (s *State) IsAdminInDepartment(departmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil && s.user.IsOwner {
		return true
	}
	for _, row := range s.roles {
		if row.DepartmentID == departmentID && row.Role == auth.RoleAdmin {
			return true
		}
	}
	return false
}

// IsViewerInDepartment is true only for explicit viewer grants. An owner is
// not a viewer.
func (s *State) IsViewerInDepartment(departmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil && s.user.IsOwner {
		return false
	}
	for _, row := range s.roles {
		if row.DepartmentID == departmentID && row.Role == auth.RoleViewer {
			return true
		}
	}
	return false
}

// HasAccessToDepartment is true for owners and anyone with a role row in the
// department.
func (s *State) HasAccessToDepartment(departmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil && s.user.IsOwner {
		return true
	}
	for _, row := range s.roles {
		if row.DepartmentID == departmentID {
			return true
		}
	}
	return false
}
