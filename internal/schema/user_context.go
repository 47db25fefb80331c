package schema

// UserContext carries the authenticated user through request handling.
type UserContext struct {
	ID      int64
	GroupID int64
	Email   string
}

// IsRoot reports membership in the administrators group.
func (u *UserContext) IsRoot() bool {
	return u != nil && u.GroupID == RootGroupID
}
