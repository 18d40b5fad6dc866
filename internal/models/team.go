package models

import "time"

// Role is a user's role within a team. Owners and admins hold elevated
// permissions (issue deletion, review decisions on any issue).
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleNone      Role = "none"
)

// Elevated reports whether the role grants owner/admin permissions.
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Team owns workflow states, members, projects, and issues.
type Team struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Key            string    `json:"key"` // short uppercase prefix, e.g. ENG in ENG-42
	DefaultStateID string    `json:"defaultStateId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// User is a directory entry resolvable to a display name.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// TeamMember links a user to a team with a role.
type TeamMember struct {
	TeamID    string    `json:"teamId"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
