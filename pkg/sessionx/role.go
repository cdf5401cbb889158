// Package sessionx derives a typed user session from normalized token
// payloads and enforces role-based permissions.
package sessionx

import "strings"

// Role is one of the four clinic staff roles.
type Role string

const (
	RoleDirector      Role = "DIRECTOR"
	RoleAdministrador Role = "ADMINISTRADOR"
	RoleRecepcionista Role = "RECEPCIONISTA"
	RoleLicenciado    Role = "LICENCIADO"
)

var validRoles = map[Role]struct{}{
	RoleDirector:      {},
	RoleAdministrador: {},
	RoleRecepcionista: {},
	RoleLicenciado:    {},
}

// ParseRole extracts the first recognized role from a raw role string.
// Backends report roles in several shapes ("ROLE_ADMINISTRADOR",
// "director", "RECEPCIONISTA|LICENCIADO"), so the input is split on
// whitespace, commas, pipes and slashes, uppercased, and has any "ROLE_"
// prefix stripped before matching. Returns false when no token matches.
func ParseRole(raw string) (Role, bool) {
	for _, token := range strings.FieldsFunc(raw, isRoleSeparator) {
		normalized := strings.ToUpper(strings.TrimSpace(token))
		normalized = strings.TrimPrefix(normalized, "ROLE_")
		if _, ok := validRoles[Role(normalized)]; ok {
			return Role(normalized), true
		}
	}
	return "", false
}

func isRoleSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '|', ',', '/':
		return true
	}
	return false
}
