package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

func sharedTrip() domain.Trip {
	return domain.Trip{
		ID:      "trip-1",
		Name:    "Hanoi",
		OwnerID: "owner",
		Collaborators: map[string]domain.PermissionLevel{
			"ed": domain.PermissionEditor,
			"vi": domain.PermissionViewer,
		},
	}
}

func TestRoleOf(t *testing.T) {
	trip := sharedTrip()

	tests := []struct {
		name   string
		userID string
		want   domain.Role
	}{
		{"owner", "owner", domain.RoleOwner},
		{"editor", "ed", domain.RoleEditor},
		{"viewer", "vi", domain.RoleViewer},
		{"stranger", "nobody", domain.RoleNone},
		{"empty user", "", domain.RoleNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.RoleOf(trip, tc.userID))
		})
	}
}

func TestCanCheckIn_OwnerOnly(t *testing.T) {
	trip := sharedTrip()

	assert.True(t, domain.CanCheckIn(trip, "owner"))
	assert.False(t, domain.CanCheckIn(trip, "ed"), "editors can view progress but not advance it")
	assert.False(t, domain.CanCheckIn(trip, "vi"))
	assert.False(t, domain.CanCheckIn(trip, "nobody"))
}

func TestCanEdit(t *testing.T) {
	trip := sharedTrip()

	assert.True(t, domain.CanEdit(trip, "owner"))
	assert.True(t, domain.CanEdit(trip, "ed"))
	assert.False(t, domain.CanEdit(trip, "vi"))
	assert.False(t, domain.CanEdit(trip, "nobody"))
}

// TestOwnerAlwaysCanCheckInAndEdit checks the property over several trip shapes.
func TestOwnerAlwaysCanCheckInAndEdit(t *testing.T) {
	trips := []domain.Trip{
		{OwnerID: "u1"},
		{OwnerID: "u1", Collaborators: map[string]domain.PermissionLevel{"u2": domain.PermissionViewer}},
		{OwnerID: "u1", Collaborators: map[string]domain.PermissionLevel{"u2": domain.PermissionEditor, "u3": domain.PermissionViewer}},
	}
	for _, trip := range trips {
		assert.Equal(t, domain.RoleOwner, domain.RoleOf(trip, "u1"))
		assert.True(t, domain.CanCheckIn(trip, "u1"))
		assert.True(t, domain.CanEdit(trip, "u1"))
		assert.True(t, domain.CanManage(trip, "u1"))
	}
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, domain.RoleOwner.AtLeast(domain.RoleEditor))
	assert.True(t, domain.RoleEditor.AtLeast(domain.RoleViewer))
	assert.False(t, domain.RoleViewer.AtLeast(domain.RoleEditor))
	assert.False(t, domain.RoleNone.AtLeast(domain.RoleViewer))
}
