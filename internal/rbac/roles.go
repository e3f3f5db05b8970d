package rbac

// Role names. Keep these stable; they are part of the token contract with the
// CRM's auth service.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
