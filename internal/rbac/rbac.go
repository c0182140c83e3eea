package rbac

type Role string
type Action string

const (
	RoleStakeholder Role = "stakeholder"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionEdit     Action = "edit"
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionViewLog  Action = "viewlog"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStakeholder:
		return action == ActionRead || action == ActionEdit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStakeholder, RoleAdmin:
		return Role(role)
	default:
		return RoleStakeholder
	}
}

// Identity is who is acting in the current cycle. Stakeholders carry the
// agency their view is filtered to; the admin identity is synthetic and
// not tied to any agency.
type Identity struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Agency string `json:"agency"`
	Role   Role   `json:"role"`
}

// AdminIdentity returns the identity attached to admin sessions.
func AdminIdentity() Identity {
	return Identity{Name: "Admin", Email: "admin@system", Agency: "All", Role: RoleAdmin}
}
