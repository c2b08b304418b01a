package generic

import (
	"fmt"
	"strings"
)

// Role is an employee's organizational role.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
	RoleDeptHead Role = "dept_head"
	RoleAdmin    Role = "admin"
)

// Capability is a permission to act on one approval stage.
type Capability string

const (
	CapApproveHR       Capability = "approve.hr"
	CapApproveDeptHead Capability = "approve.dept_head"
	CapApproveAdmin    Capability = "approve.admin"
)

// RoleCapabilities maps each role to what it may act on.
var RoleCapabilities = map[Role][]Capability{
	RoleEmployee: {},
	RoleHR:       {CapApproveHR},
	RoleDeptHead: {CapApproveDeptHead},
	RoleAdmin:    {CapApproveAdmin},
}

// ParseRole resolves a case-insensitive role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := RoleCapabilities[r]; !ok {
		return "", &ValidationError{Field: "role", Code: "unknown_role", Message: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// Can reports whether the role holds capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range RoleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}
