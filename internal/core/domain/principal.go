package domain

// Principal is the minimal authenticated identity attached to a request
// after the authorization guard admits it.
type Principal struct {
	ID    string
	Email string
	Role  Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess is the ownership predicate used by every resource controller:
// admins may act on any resource, other principals only on their own.
func (p Principal) CanAccess(ownerID string) bool {
	if p.IsAdmin() {
		return true
	}
	return p.ID != "" && p.ID == ownerID
}
