package handler_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/handler"
)

func invite(t *testing.T, api *testAPI, tripID, email string, p domain.PermissionLevel) domain.TripInvitation {
	t.Helper()
	rec := api.do(alice, http.MethodPost, "/trips/"+tripID+"/invitations", map[string]any{
		"email":      email,
		"permission": p,
		"message":    "come along",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.TripInvitation](t, rec)
}

func TestInvite_AcceptFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	stored := api.seed(domain.KindOwned, korea("alice"))

	inv := invite(t, api, stored.ID, "Bob@Example.com", domain.PermissionEditor)
	assert.Equal(t, domain.InvitationPending, inv.Status)
	assert.Equal(t, "bob@example.com", inv.InviteeEmail)
	assert.Equal(t, stored.ID, inv.TripID)

	pending := decode[handler.InvitationListResponse](t, api.do(bob, http.MethodGet, "/invitations", nil))
	require.Len(t, pending.Data, 1)
	assert.Equal(t, inv.ID, pending.Data[0].ID)

	rec := api.do(bob, http.MethodPost, "/invitations/"+inv.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	joined := decode[domain.TripRecord](t, rec)
	assert.Equal(t, domain.KindShared, joined.Kind)
	assert.Equal(t, domain.PermissionEditor, joined.Collaborators["bob"])

	list := decode[handler.TripListResponse](t, api.do(bob, http.MethodGet, "/trips", nil))
	assert.Empty(t, list.MyTrips)
	require.Len(t, list.SharedWithMe, 1)
	assert.Equal(t, stored.ID, list.SharedWithMe[0].ID)

	pending = decode[handler.InvitationListResponse](t, api.do(bob, http.MethodGet, "/invitations", nil))
	assert.Empty(t, pending.Data)

	t.Run("owner lowers the permission", func(t *testing.T) {
		rec := api.do(alice, http.MethodPut, "/trips/"+stored.ID+"/collaborators/bob",
			map[string]any{"permission": domain.PermissionViewer})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, domain.PermissionViewer, decode[domain.TripRecord](t, rec).Collaborators["bob"])
	})

	t.Run("viewer cannot edit", func(t *testing.T) {
		rec := api.do(bob, http.MethodPut, "/trips/"+stored.ID, map[string]any{"name": "mine now"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("collaborator cannot manage members", func(t *testing.T) {
		rec := api.do(bob, http.MethodDelete, "/trips/"+stored.ID+"/collaborators/bob", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner removes the collaborator", func(t *testing.T) {
		rec := api.do(alice, http.MethodDelete, "/trips/"+stored.ID+"/collaborators/bob", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotContains(t, decode[domain.TripRecord](t, rec).Collaborators, "bob")
	})
}

func TestInvite_Decline(t *testing.T) {
	api := newTestAPI(t, nil)
	stored := api.seed(domain.KindOwned, korea("alice"))
	inv := invite(t, api, stored.ID, bob.Email, domain.PermissionViewer)

	rec := api.do(bob, http.MethodPost, "/invitations/"+inv.ID+"/decline", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	pending := decode[handler.InvitationListResponse](t, api.do(bob, http.MethodGet, "/invitations", nil))
	assert.Empty(t, pending.Data)

	rec = api.do(bob, http.MethodPost, "/invitations/"+inv.ID+"/accept", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code, "a declined invitation cannot be accepted")
}

func TestInvite_Rejected(t *testing.T) {
	api := newTestAPI(t, nil)
	stored := api.seed(domain.KindOwned, korea("alice"))
	invite(t, api, stored.ID, bob.Email, domain.PermissionViewer)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"bad email", map[string]any{"email": "not-an-email", "permission": "viewer"}, http.StatusUnprocessableEntity},
		{"bad permission", map[string]any{"email": "carol@example.com", "permission": "owner"}, http.StatusUnprocessableEntity},
		{"duplicate pending", map[string]any{"email": bob.Email, "permission": "editor"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(alice, http.MethodPost, "/trips/"+stored.ID+"/invitations", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAcceptInvitation_NotAddressedToCaller(t *testing.T) {
	api := newTestAPI(t, nil)
	stored := api.seed(domain.KindOwned, korea("alice"))
	inv := invite(t, api, stored.ID, bob.Email, domain.PermissionViewer)

	carol := bob
	carol.ID, carol.Email = "carol", "carol@example.com"
	rec := api.do(carol, http.MethodPost, "/invitations/"+inv.ID+"/accept", nil)

	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, rec.Code)
}
