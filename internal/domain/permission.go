package domain

// Role is the relationship between a user and one trip.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

// PermissionLevel is what an owner can grant a collaborator.
type PermissionLevel string

const (
	PermissionEditor PermissionLevel = "editor"
	PermissionViewer PermissionLevel = "viewer"
)

// roleRank orders roles so checks can ask "at least editor".
// Higher numbers carry more permissions.
var roleRank = map[Role]int{
	RoleNone:   0,
	RoleViewer: 1,
	RoleEditor: 2,
	RoleOwner:  3,
}

// Valid reports whether p is a grantable permission level.
func (p PermissionLevel) Valid() bool {
	return p == PermissionEditor || p == PermissionViewer
}

// Role converts a granted permission into the matching role.
func (p PermissionLevel) Role() Role {
	switch p {
	case PermissionEditor:
		return RoleEditor
	case PermissionViewer:
		return RoleViewer
	default:
		return RoleNone
	}
}

// AtLeast reports whether r carries at least the permissions of required.
func (r Role) AtLeast(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// RoleOf maps (trip, user) to the user's role. Owner wins; otherwise the
// collaborators map is consulted; anyone else has no role.
func RoleOf(t Trip, userID string) Role {
	if userID == "" {
		return RoleNone
	}
	if t.OwnerID == userID {
		return RoleOwner
	}
	if p, ok := t.Collaborators[userID]; ok {
		return p.Role()
	}
	return RoleNone
}

// CanCheckIn is owner-exclusive: collaborators can watch progress but not advance it.
func CanCheckIn(t Trip, userID string) bool {
	return RoleOf(t, userID) == RoleOwner
}

// CanEdit allows the owner and editor collaborators.
func CanEdit(t Trip, userID string) bool {
	return RoleOf(t, userID).AtLeast(RoleEditor)
}

// CanView allows anyone with a role on the trip.
func CanView(t Trip, userID string) bool {
	return RoleOf(t, userID).AtLeast(RoleViewer)
}

// CanManage covers collaborator management, invitations and deletion.
func CanManage(t Trip, userID string) bool {
	return RoleOf(t, userID) == RoleOwner
}
