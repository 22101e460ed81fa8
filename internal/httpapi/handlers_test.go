package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskgrid.org/internal/auth"
	"taskgrid.org/internal/ids"
	"taskgrid.org/internal/obs"
)

type testEnv struct {
	handler http.Handler
	store   *auth.MemoryStore
	svc     *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	obs.Init()

	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, auth.WithTokenSecret("test-secret-0123456789abcdef0123"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	table, err := svc.PermissionTable(context.Background())
	if err != nil {
		t.Fatalf("PermissionTable: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc, auth.NewEngine(table), nil)
	return &testEnv{handler: api.Handler(), store: store, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func (e *testEnv) registerOwner(t *testing.T) (ownerToken string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"organization": "Initech",
		"name":         "Olive Owner",
		"email":        "owner@initech.test",
		"password":     "hunter2hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("register returned no access token")
	}
	return token
}

// addMember creates a user in the owner's organization directly through the
// store and grants the role, then logs them in over the wire.
func (e *testEnv) addMember(t *testing.T, email string, role auth.Role, departmentID string) string {
	t.Helper()
	ctx := context.Background()
	owner, err := e.store.Users(ctx).FindByEmail(ctx, "owner@initech.test")
	if err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	hash, err := auth.HashPassword("memberpass123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &auth.User{
		ID:             ids.New(),
		OrganizationID: owner.OrganizationID,
		Email:          email,
		Name:           "Member",
		PasswordHash:   hash,
		Status:         auth.UserStatusActive,
	}
	if err := e.store.Users(ctx).Create(ctx, user); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if _, err := e.svc.AssignRole(ctx, user.ID, role, departmentID); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	rec := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "memberpass123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("member login status = %d body=%s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["access_token"].(string)
	if token == "" {
		t.Fatal("member login returned no access token")
	}
	return token
}

func (e *testEnv) createDepartment(t *testing.T, ownerToken, name string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/departments", ownerToken, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create department status = %d body=%s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("department response missing id")
	}
	return id
}

func TestRegisterAndWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerOwner(t)

	rec := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("whoami status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("whoami missing user: %s", rec.Body.String())
	}
	if user["email"] != "owner@initech.test" {
		t.Fatalf("unexpected email: %v", user["email"])
	}
	if user["is_owner"] != true {
		t.Fatalf("expected owner flag set: %v", user["is_owner"])
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.registerOwner(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "owner@initech.test",
		"password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "invalid credentials" {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/departments", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatal("expected WWW-Authenticate header")
	}

	rec = env.do(t, http.MethodGet, "/v1/departments", "not-a-real-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	env.registerOwner(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "owner@initech.test",
		"password": "hunter2hunter2",
	})
	refresh, _ := decodeBody(t, rec)["refresh_token"].(string)
	if refresh == "" {
		t.Fatal("login returned no refresh token")
	}

	rec = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body=%s", rec.Code, rec.Body.String())
	}
	next, _ := decodeBody(t, rec)["refresh_token"].(string)
	if next == "" || next == refresh {
		t.Fatal("refresh should rotate the refresh token")
	}

	// The previous token was revoked by rotation.
	rec = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token status = %d, want 401", rec.Code)
	}
}

func TestDepartmentScopedAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerOwner(t)
	deptA := env.createDepartment(t, owner, "Engineering")
	deptB := env.createDepartment(t, owner, "Finance")

	viewer := env.addMember(t, "viewer@initech.test", auth.RoleViewer, deptA)
	admin := env.addMember(t, "admin@initech.test", auth.RoleAdmin, deptA)

	// Viewer may read tasks in their department.
	rec := env.do(t, http.MethodGet, "/v1/departments/"+deptA+"/tasks", viewer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer list status = %d body=%s", rec.Code, rec.Body.String())
	}

	// But not create them.
	rec = env.do(t, http.MethodPost, "/v1/departments/"+deptA+"/tasks", viewer, map[string]string{"title": "nope"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer create status = %d, want 403", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "permission denied: create on task") {
		t.Fatalf("unexpected denial message: %q", msg)
	}

	// No role in the other department at all.
	rec = env.do(t, http.MethodGet, "/v1/departments/"+deptB+"/tasks", viewer, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-department status = %d, want 403", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "no role in this department") {
		t.Fatalf("unexpected denial message: %q", msg)
	}

	// Admin creates a task in their department.
	rec = env.do(t, http.MethodPost, "/v1/departments/"+deptA+"/tasks", admin, map[string]string{"title": "ship it"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d body=%s", rec.Code, rec.Body.String())
	}

	// Owner bypasses everything.
	rec = env.do(t, http.MethodPost, "/v1/departments/"+deptB+"/tasks", owner, map[string]string{"title": "budget"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("owner create status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestBodyDepartmentOverridesPath(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerOwner(t)
	deptA := env.createDepartment(t, owner, "Engineering")
	deptB := env.createDepartment(t, owner, "Finance")

	admin := env.addMember(t, "admin@initech.test", auth.RoleAdmin, deptA)

	// The body departmentId names a department the admin has no role in, so
	// the request is denied even though the path names their own department.
	rec := env.do(t, http.MethodPost, "/v1/departments/"+deptA+"/tasks", admin, map[string]string{
		"title":        "sneaky",
		"departmentId": deptB,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body overrides path)", rec.Code)
	}
}

func TestTaskDeleteScopesByPathID(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerOwner(t)
	deptA := env.createDepartment(t, owner, "Engineering")
	admin := env.addMember(t, "admin@initech.test", auth.RoleAdmin, deptA)

	rec := env.do(t, http.MethodPost, "/v1/departments/"+deptA+"/tasks", admin, map[string]string{"title": "t"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	taskID, _ := decodeBody(t, rec)["id"].(string)

	// The delete route's id parameter names a task, but the resolver treats
	// any literal id as the department scope, so the admin's grant on deptA
	// does not apply and only the owner gets through.
	rec = env.do(t, http.MethodDelete, "/v1/tasks/"+taskID, admin, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin delete status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/v1/tasks/"+taskID, owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/v1/tasks/"+taskID, owner, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestMemberAssignRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerOwner(t)
	deptA := env.createDepartment(t, owner, "Engineering")
	viewer := env.addMember(t, "viewer@initech.test", auth.RoleViewer, deptA)
	admin := env.addMember(t, "admin@initech.test", auth.RoleAdmin, deptA)

	ctx := context.Background()
	target, err := env.store.Users(ctx).FindByEmail(ctx, "viewer@initech.test")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/departments/"+deptA+"/members", viewer, map[string]string{
		"user_id": target.ID,
		"role":    "ADMIN",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer assign status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/departments/"+deptA+"/members", admin, map[string]string{
		"user_id": target.ID,
		"role":    "ADMIN",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin assign status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}
