package tripsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

func selectedTrip(kind domain.TripKind, version int64) domain.TripRecord {
	t := domain.Trip{ID: "t1", Name: "Korea", OwnerID: "alice", Version: version}
	if kind == domain.KindShared {
		t.Collaborators = map[string]domain.PermissionLevel{"bob": domain.PermissionEditor}
	}
	return domain.TripRecord{Kind: kind, Trip: t}
}

func TestReconcileSelected(t *testing.T) {
	tests := []struct {
		name     string
		selected domain.TripRecord
		owned    []domain.TripRecord
		shared   []domain.TripRecord
		wantKind domain.TripKind
		wantVer  int64
	}{
		{
			name:     "shared copy replaces a newer private selection",
			selected: selectedTrip(domain.KindOwned, 4),
			owned:    []domain.TripRecord{selectedTrip(domain.KindOwned, 4)},
			shared:   []domain.TripRecord{selectedTrip(domain.KindShared, 1)},
			wantKind: domain.KindShared,
			wantVer:  1,
		},
		{
			name:     "newer list copy refreshes the selection",
			selected: selectedTrip(domain.KindOwned, 2),
			owned:    []domain.TripRecord{selectedTrip(domain.KindOwned, 3)},
			wantKind: domain.KindOwned,
			wantVer:  3,
		},
		{
			name:     "newer selection is written back into the list",
			selected: selectedTrip(domain.KindShared, 5),
			shared:   []domain.TripRecord{selectedTrip(domain.KindShared, 4)},
			wantKind: domain.KindShared,
			wantVer:  5,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &Engine{}
			e.state.UserID = "alice"
			e.setSelectedLocked(tc.selected)
			e.owned, e.shared = tc.owned, tc.shared

			e.recomputeLocked()

			require.Len(t, e.state.MyTrips, 1)
			assert.Equal(t, tc.wantKind, e.state.MyTrips[0].Kind)
			assert.Equal(t, tc.wantVer, e.state.MyTrips[0].Version)
			require.NotNil(t, e.state.Selected)
			assert.Equal(t, tc.wantKind, e.state.Selected.Kind)
			assert.Equal(t, tc.wantVer, e.state.Selected.Version)
		})
	}
}
