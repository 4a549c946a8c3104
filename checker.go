package trustkit

import "fmt"

// Checker answers permission questions for one user from a matrix resolved
// once per request. It is typically created by the middleware and stored in
// context for use in handlers.
type Checker struct {
	userID string
	matrix PermissionMatrix
}

// NewChecker creates a new Checker for a user.
func NewChecker(userID string, matrix PermissionMatrix) *Checker {
	if matrix == nil {
		matrix = NewPermissionMatrix()
	}
	return &Checker{
		userID: userID,
		matrix: matrix,
	}
}

// UserID returns the user ID this checker is for.
func (c *Checker) UserID() string {
	return c.userID
}

// Can checks if the user holds a resource/action permission.
//
// Example:
//
//	if checker.Can(trustkit.ResourceLore, trustkit.ActionEdit) {
//	    // User may edit lore entries
//	}
func (c *Checker) Can(resource Resource, action Action) bool {
	return c.matrix.Allows(resource, action)
}

// CanAny checks if the user holds any of the permissions.
func (c *Checker) CanAny(perms ...Permission) bool {
	for _, p := range perms {
		if c.matrix[p] {
			return true
		}
	}
	return false
}

// CanAll checks if the user holds every one of the permissions.
func (c *Checker) CanAll(perms ...Permission) bool {
	for _, p := range perms {
		if !c.matrix[p] {
			return false
		}
	}
	return true
}

// Require returns ErrPermissionDenied when the user lacks the permission.
func (c *Checker) Require(resource Resource, action Action) error {
	if c.Can(resource, action) {
		return nil
	}
	return NewError(ErrPermissionDenied, fmt.Sprintf("%s.%s required", resource, action)).WithUser(c.userID)
}

// Matrix returns a copy of the resolved matrix.
func (c *Checker) Matrix() PermissionMatrix {
	return c.matrix.Clone()
}
