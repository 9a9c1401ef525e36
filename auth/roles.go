package auth

// Roles follow privilege levels: lower is more privileged.
const (
	RoleAdmin     = 0
	RoleModerator = 1
	RoleEditor    = 2
	RoleUser      = 3
)

// HasRole reports whether role is one of allowed.
func HasRole(role int, allowed ...int) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
