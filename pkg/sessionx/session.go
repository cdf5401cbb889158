package sessionx

// Session is the derived identity of a signed-in user.
type Session struct {
	UserID int64  `json:"userId"`
	Role   Role   `json:"role"`
	Token  string `json:"token"`

	// ExpiresAt is a Unix-millisecond deadline, nil when unknown.
	ExpiresAt *int64 `json:"expiresAt"`
}

// Equal reports structural equality, treating nil deadlines as equal.
func (s *Session) Equal(other *Session) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if s.UserID != other.UserID || s.Role != other.Role || s.Token != other.Token {
		return false
	}
	if (s.ExpiresAt == nil) != (other.ExpiresAt == nil) {
		return false
	}
	return s.ExpiresAt == nil || *s.ExpiresAt == *other.ExpiresAt
}

// Can reports whether the session's role grants the permission. An empty
// permission is always granted.
func (s *Session) Can(perm string) bool {
	if perm == "" {
		return true
	}
	if s == nil {
		return false
	}
	return Can(s.Role, perm)
}
