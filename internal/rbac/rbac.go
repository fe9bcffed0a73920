// Package rbac holds the static role→permission matrix and the
// production write restriction applied on top of it. The matrix is pure
// data; the environment rule is a separate function so each is testable
// on its own.
package rbac

// Permission codes. The three read permissions are distinct from the
// four write/admin permissions for the production restriction below.
const (
	PermBillingRead      = "federation:billing:read"
	PermEscalationRead   = "federation:escalation:read"
	PermAnalyticsRead    = "federation:analytics:read"
	PermEscalationCreate = "federation:escalation:create"
	PermBillingWrite     = "federation:billing:write"
	PermKeysAdmin        = "federation:keys:admin"
	PermAccountsAdmin    = "federation:accounts:admin"
)

// Roles known to the platform.
const (
	RoleProviderAdmin   = "provider_admin"
	RoleProviderAnalyst = "provider_analyst"
	RoleDeveloper       = "developer"
	RoleAIDev           = "ai_dev"
)

var readPermissions = []string{
	PermBillingRead,
	PermEscalationRead,
	PermAnalyticsRead,
}

var writePermissions = map[string]struct{}{
	PermEscalationCreate: {},
	PermBillingWrite:     {},
	PermKeysAdmin:        {},
	PermAccountsAdmin:    {},
}

var rolePermissions = map[string]map[string]struct{}{
	RoleProviderAdmin: toSet(
		PermBillingRead, PermEscalationRead, PermAnalyticsRead,
		PermEscalationCreate, PermBillingWrite, PermKeysAdmin, PermAccountsAdmin,
	),
	RoleProviderAnalyst: toSet(readPermissions...),
	RoleDeveloper:       toSet(readPermissions...),
	RoleAIDev:           toSet(readPermissions...),
}

// Elevated-but-untrusted roles: nominally granted permissions, but
// blocked from every write-classified permission in production.
var restrictedInProduction = map[string]struct{}{
	RoleAIDev: {},
}

func toSet(perms ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// HasPermission looks up the static table. Unknown or malformed roles
// hold no permissions; the lookup is exact, with no trimming or case
// folding.
func HasPermission(role, permission string) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = perms[permission]
	return ok
}

// IsWritePermission reports whether the permission is write-classified.
func IsWritePermission(permission string) bool {
	_, ok := writePermissions[permission]
	return ok
}

// ProductionWriteRestriction reports whether the role is blocked from
// write-classified permissions under the current environment. This is a
// deliberate override on top of the static table, not part of it.
func ProductionWriteRestriction(role string, isProduction bool) bool {
	if !isProduction {
		return false
	}
	_, ok := restrictedInProduction[role]
	return ok
}

// Allowed composes the static table with the environment rule.
func Allowed(role, permission string, isProduction bool) bool {
	if !HasPermission(role, permission) {
		return false
	}
	if IsWritePermission(permission) && ProductionWriteRestriction(role, isProduction) {
		return false
	}
	return true
}
