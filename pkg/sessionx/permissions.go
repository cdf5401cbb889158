package sessionx

// Wildcard grants every permission to the role that holds it.
const Wildcard = "*"

// permissions maps each role to the actions it may perform.
var permissions = map[Role][]string{
	RoleDirector: {Wildcard},

	RoleAdministrador: {
		"view:contracts",
		"create:contracts",
		"update:contracts",
		"view:services",
		"create:services",
		"update:services",
		"view:centers",
		"create:centers",
		"update:centers",
	},

	RoleRecepcionista: {
		"view:patients",
		"create:patients",
		"update:patients",
		"view:appointments",
		"create:appointments",
		"confirm:appointments",
	},

	RoleLicenciado: {
		"view:appointments",
		"view:patients",
		"phase:register",
		"phase:read",
		"phase:deliver",
	},
}

// Can reports whether the role grants the permission. Unknown roles hold
// nothing. A role holding the wildcard grants everything.
func Can(role Role, perm string) bool {
	grants, ok := permissions[role]
	if !ok {
		return false
	}
	for _, grant := range grants {
		if grant == Wildcard || grant == perm {
			return true
		}
	}
	return false
}

// HasAll reports whether the role grants every listed permission. An empty
// list is vacuously satisfied, even without a role.
func HasAll(role Role, perms []string) bool {
	if len(perms) == 0 {
		return true
	}
	if role == "" {
		return false
	}
	for _, perm := range perms {
		if !Can(role, perm) {
			return false
		}
	}
	return true
}

// HasAny reports whether the role grants at least one listed permission.
// An empty list grants nothing.
func HasAny(role Role, perms []string) bool {
	if len(perms) == 0 || role == "" {
		return false
	}
	for _, perm := range perms {
		if Can(role, perm) {
			return true
		}
	}
	return false
}
