package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and DSN-less development runs.
type MemoryStore struct {
	mu            sync.RWMutex
	organizations map[string]Organization
	users         map[string]User
	departments   map[string]Department
	userRoles     map[string]UserRole
	permissions   map[permKey]PermissionRule
	refreshTokens map[string]RefreshToken
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		organizations: make(map[string]Organization),
		users:         make(map[string]User),
		departments:   make(map[string]Department),
		userRoles:     make(map[string]UserRole),
		permissions:   make(map[permKey]PermissionRule),
		refreshTokens: make(map[string]RefreshToken),
	}
}

func (m *MemoryStore) Organizations(context.Context) OrganizationStore { return memOrgStore{m} }
func (m *MemoryStore) Users(context.Context) UserStore                 { return memUserStore{m} }
func (m *MemoryStore) Departments(context.Context) DepartmentStore     { return memDeptStore{m} }
func (m *MemoryStore) UserRoles(context.Context) UserRoleStore         { return memRoleStore{m} }
func (m *MemoryStore) Permissions(context.Context) PermissionStore     { return memPermStore{m} }
func (m *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memTokenStore{m} }

type memOrgStore struct{ s *MemoryStore }

func (st memOrgStore) Create(_ context.Context, org *Organization) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.organizations[org.ID]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	st.s.organizations[org.ID] = *org
	return nil
}

func (st memOrgStore) Find(_ context.Context, id string) (*Organization, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	org, ok := st.s.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

type memUserStore struct{ s *MemoryStore }

func (st memUserStore) Create(_ context.Context, u *User) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	st.s.users[u.ID] = *u
	return nil
}

func (st memUserStore) Find(_ context.Context, id string) (*User, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	u, ok := st.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (st memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, u := range st.s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

type memDeptStore struct{ s *MemoryStore }

func (st memDeptStore) Create(_ context.Context, d *Department) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.departments[d.ID]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	st.s.departments[d.ID] = *d
	return nil
}

func (st memDeptStore) Find(_ context.Context, id string) (*Department, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	d, ok := st.s.departments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (st memDeptStore) ListByOrg(_ context.Context, orgID string) ([]Department, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []Department
	for _, d := range st.s.departments {
		if d.OrganizationID == orgID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memRoleStore struct{ s *MemoryStore }

func (st memRoleStore) Assign(_ context.Context, row *UserRole) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.userRoles {
		if existing.UserID == row.UserID && existing.Role == row.Role && existing.DepartmentID == row.DepartmentID {
			return ErrConflict
		}
	}
	row.CreatedAt = time.Now().UTC()
	st.s.userRoles[row.ID] = *row
	return nil
}

func (st memRoleStore) ListByUser(_ context.Context, userID string) ([]UserRole, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []UserRole
	for _, row := range st.s.userRoles {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (st memRoleStore) Remove(_ context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.userRoles[id]; !ok {
		return ErrNotFound
	}
	delete(st.s.userRoles, id)
	return nil
}

type memPermStore struct{ s *MemoryStore }

func (st memPermStore) Ensure(_ context.Context, rules []PermissionRule) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, r := range rules {
		st.s.permissions[permKey{r.Action, r.Resource, r.Role}] = r
	}
	return nil
}

func (st memPermStore) List(_ context.Context) ([]PermissionRule, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	out := make([]PermissionRule, 0, len(st.s.permissions))
	for _, r := range st.s.permissions {
		out = append(out, r)
	}
	return out, nil
}

type memTokenStore struct{ s *MemoryStore }

func (st memTokenStore) Create(_ context.Context, tok *RefreshToken) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.refreshTokens[tok.ID] = *tok
	return nil
}

func (st memTokenStore) Find(_ context.Context, id string) (*RefreshToken, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	tok, ok := st.s.refreshTokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (st memTokenStore) MarkRevoked(_ context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	tok, ok := st.s.refreshTokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	st.s.refreshTokens[id] = tok
	return nil
}

func (st memTokenStore) MarkRevokedByUser(_ context.Context, userID string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for id, tok := range st.s.refreshTokens {
		if tok.UserID == userID {
			tok.Revoked = true
			st.s.refreshTokens[id] = tok
		}
	}
	return nil
}
