package auth

import (
	"errors"
	"strings"
	"testing"
)

func testEngine() *Engine {
	return NewEngine(NewPermissionTable(BuiltinPermissions))
}

func TestScopeDepartmentResolutionOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		scope Scope
		want  string
	}{
		{
			name:  "body wins over path id",
			scope: Scope{BodyDepartmentID: "A", PathID: "B"},
			want:  "A",
		},
		{
			name:  "path departmentId wins over path id",
			scope: Scope{PathDepartmentID: "dept-7", PathID: "task-1"},
			want:  "dept-7",
		},
		{
			name:  "path id wins over query",
			scope: Scope{PathID: "dept-2", QueryDepartmentID: "dept-3"},
			want:  "dept-2",
		},
		{
			name:  "query as last resort",
			scope: Scope{QueryDepartmentID: "dept-9"},
			want:  "dept-9",
		},
		{
			name:  "whitespace is not a value",
			scope: Scope{BodyDepartmentID: "  ", PathID: "dept-4"},
			want:  "dept-4",
		},
		{
			name:  "nothing present means unscoped",
			scope: Scope{},
			want:  "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.scope.DepartmentID(); got != tc.want {
				t.Fatalf("DepartmentID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthorizeRoleRequirement(t *testing.T) {
	t.Parallel()
	engine := testEngine()

	admin := &Principal{
		UserID: "u1",
		Roles:  []UserRole{{UserID: "u1", Role: RoleAdmin, DepartmentID: "dept-1"}},
	}
	owner := &Principal{UserID: "u2", IsOwner: true}

	cases := []struct {
		name      string
		principal *Principal
		req       Requirement
		scope     Scope
		wantErr   error
	}{
		{
			name:      "no requirement allows",
			principal: admin,
			req:       Requirement{},
			scope:     Scope{PathDepartmentID: "dept-2"},
		},
		{
			name:      "owner bypasses with zero role rows",
			principal: owner,
			req:       RequireRoles(RoleAdmin),
			scope:     Scope{PathDepartmentID: "dept-1"},
		},
		{
			name:      "matching role in department allows",
			principal: admin,
			req:       RequireRoles(RoleAdmin),
			scope:     Scope{PathDepartmentID: "dept-1"},
		},
		{
			name:      "role in another department denies",
			principal: admin,
			req:       RequireRoles(RoleAdmin),
			scope:     Scope{PathDepartmentID: "dept-2"},
			wantErr:   ErrForbidden,
		},
		{
			name:      "unscoped request considers all roles",
			principal: admin,
			req:       RequireRoles(RoleAdmin),
			scope:     Scope{},
		},
		{
			name:    "absent principal requires authentication",
			req:     RequireRoles(RoleAdmin),
			scope:   Scope{},
			wantErr: ErrAuthenticationRequired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.Authorize(tc.principal, tc.req, tc.scope)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Authorize() = %v, want allow", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Authorize() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAuthorizePermissionRequirement(t *testing.T) {
	t.Parallel()
	engine := testEngine()

	viewer := &Principal{
		UserID: "u1",
		Roles:  []UserRole{{UserID: "u1", Role: RoleViewer, DepartmentID: "dept-1"}},
	}

	// Viewer may read tasks in its department.
	if err := engine.Authorize(viewer, RequirePermission("read", "task"), Scope{PathDepartmentID: "dept-1"}); err != nil {
		t.Fatalf("expected read to be allowed: %v", err)
	}

	// No matching permission row is a terminal denial naming the pair.
	err := engine.Authorize(viewer, RequirePermission("delete", "task"), Scope{PathDepartmentID: "dept-1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !strings.Contains(err.Error(), "permission denied: delete on task") {
		t.Fatalf("unexpected denial message: %v", err)
	}

	// No role in the resolved department at all.
	err = engine.Authorize(viewer, RequirePermission("read", "task"), Scope{PathDepartmentID: "dept-2"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !strings.Contains(err.Error(), "no role in this department") {
		t.Fatalf("unexpected denial message: %v", err)
	}

	// Owner bypasses permission checks entirely.
	owner := &Principal{UserID: "u2", IsOwner: true}
	if err := engine.Authorize(owner, RequirePermission("delete", "task"), Scope{PathDepartmentID: "dept-1"}); err != nil {
		t.Fatalf("expected owner bypass: %v", err)
	}
}

func TestBodyDepartmentTakesPrecedenceInAuthorize(t *testing.T) {
	t.Parallel()
	engine := testEngine()

	principal := &Principal{
		UserID: "u1",
		Roles:  []UserRole{{UserID: "u1", Role: RoleAdmin, DepartmentID: "A"}},
	}
	scope := Scope{BodyDepartmentID: "A", PathID: "B"}
	if err := engine.Authorize(principal, RequirePermission("create", "task"), scope); err != nil {
		t.Fatalf("body departmentId should win over path id: %v", err)
	}
}

func TestRequirementTable(t *testing.T) {
	t.Parallel()

	req, ok := RequirementFor(OpTaskDelete)
	if !ok {
		t.Fatalf("expected requirement for %s", OpTaskDelete)
	}
	if req.Action != "delete" || req.Resource != "task" {
		t.Fatalf("unexpected requirement: %+v", req)
	}

	req, ok = RequirementFor(OpDepartmentList)
	if !ok || !req.IsZero() {
		t.Fatalf("department list should require authentication only, got %+v ok=%v", req, ok)
	}

	if _, ok := RequirementFor("nope.unknown"); ok {
		t.Fatalf("unknown operation should not be declared")
	}
}
