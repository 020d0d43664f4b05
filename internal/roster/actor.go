package roster

// Roles recognized across the system.
const (
	RoleAdmin    = "admin"
	RoleLecturer = "lecturer"
	RoleStudent  = "student"
	// RoleSystem is never stored; it identifies internal callers acting on
	// behalf of a validated scan.
	RoleSystem = "system"
)

// Actor is the authenticated caller of an operation. The HTTP layer fills it
// from verified token claims; services trust it.
type Actor struct {
	ID   string
	Role string
}

// System is the actor used when the service marks attendance for a scan.
var System = Actor{ID: "system", Role: RoleSystem}
