package auth

// PermissionTable is the immutable read-only lookup consulted by the engine.
type PermissionTable struct {
	rules map[permKey]struct{}
}

type permKey struct {
	action   string
	resource string
	role     Role
}

// NewPermissionTable builds a table from rules. The table is never mutated
// after construction.
func NewPermissionTable(rules []PermissionRule) *PermissionTable {
	t := &PermissionTable{rules: make(map[permKey]struct{}, len(rules))}
	for _, r := range rules {
		t.rules[permKey{action: r.Action, resource: r.Resource, role: r.Role}] = struct{}{}
	}
	return t
}

// Allows reports whether a row (action, resource, role) exists. Absence means
// denial.
func (t *PermissionTable) Allows(action, resource string, role Role) bool {
	_, ok := t.rules[permKey{action: action, resource: resource, role: role}]
	return ok
}

// Len returns the number of rows in the table.
func (t *PermissionTable) Len() int { return len(t.rules) }

// BuiltinPermissions is the default permission reference table, also used to
// seed persistent storage.
var BuiltinPermissions = []PermissionRule{
	{Action: "create", Resource: "task", Role: RoleAdmin},
	{Action: "read", Resource: "task", Role: RoleAdmin},
	{Action: "update", Resource: "task", Role: RoleAdmin},
	{Action: "delete", Resource: "task", Role: RoleAdmin},
	{Action: "read", Resource: "task", Role: RoleViewer},
	{Action: "read", Resource: "department", Role: RoleAdmin},
	{Action: "read", Resource: "department", Role: RoleViewer},
	{Action: "update", Resource: "department", Role: RoleAdmin},
	{Action: "assign", Resource: "member", Role: RoleAdmin},
}
