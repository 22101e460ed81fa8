package auth

// Operation identifiers. The HTTP layer consults this table directly instead
// of attaching metadata to routes.
const (
	OpDepartmentList   = "departments.list"
	OpDepartmentCreate = "departments.create"
	OpMemberAssign     = "departments.members.assign"
	OpTaskList       = "tasks.list"
	OpTaskCreate     = "tasks.create"
	OpTaskDelete     = "tasks.delete"
	OpWhoAmI         = "auth.me"
)

var requirements = map[string]Requirement{
	OpDepartmentList:   {}, // any authenticated user
	OpDepartmentCreate: RequireRoles(RoleOwner),
	OpMemberAssign:     RequireRoles(RoleAdmin),
	OpTaskList:       RequirePermission("read", "task"),
	OpTaskCreate:     RequirePermission("create", "task"),
	OpTaskDelete:     RequirePermission("delete", "task"),
	OpWhoAmI:         {},
}

// RequirementFor returns the declared requirement for an operation. Unknown
// operations carry no requirement beyond authentication.
func RequirementFor(op string) (Requirement, bool) {
	req, ok := requirements[op]
	return req, ok
}
