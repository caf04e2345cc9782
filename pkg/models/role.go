package models

// Role represents an agent capability within the run loop.
type Role string

const (
	// RolePlanner proposes strategies for task nodes.
	RolePlanner Role = "planner"
	// RoleExecutor carries out strategies through tool calls.
	RoleExecutor Role = "executor"
	// RoleVerifier judges whether an execution satisfied its goal.
	RoleVerifier Role = "verifier"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleExecutor, RoleVerifier:
		return true
	default:
		return false
	}
}
