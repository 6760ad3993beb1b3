package invitations

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

func TestResolveInviter(t *testing.T) {
	landlord := Inviter{UserID: "L1", UserType: rbac.UserTypeLandlord}

	tests := []struct {
		name         string
		inv          Invitation
		want         Inviter
		wantConflict bool
		wantErr      error
	}{
		{
			name: "foreign key only",
			inv:  Invitation{ID: "i1", InvitedByLandlordID: "L1"},
			want: landlord,
		},
		{
			name: "foreign key agrees with generic",
			inv:  Invitation{ID: "i2", InvitedByLandlordID: "L1", InvitedBy: "L1", InvitedByRole: "landlord"},
			want: landlord,
		},
		{
			name: "pmc foreign key names the inviting pmc user",
			inv:  Invitation{ID: "i10", InvitedByPMCID: "PA1", InvitedBy: "PA1", InvitedByRole: "pm"},
			want: Inviter{UserID: "PA1", UserType: rbac.UserTypePMC},
		},
		{
			name: "generic fallback by user type",
			inv:  Invitation{ID: "i3", InvitedBy: "L1", InvitedByRole: "landlord"},
			want: landlord,
		},
		{
			name: "generic fallback by role name",
			inv:  Invitation{ID: "i4", InvitedBy: "PA1", InvitedByRole: "pmc_admin"},
			want: Inviter{UserID: "PA1", UserType: rbac.UserTypePMC},
		},
		{
			name: "super admin role maps to admin",
			inv:  Invitation{ID: "i5", InvitedBy: "A1", InvitedByRole: "SUPER_ADMIN"},
			want: Inviter{UserID: "A1", UserType: rbac.UserTypeAdmin},
		},
		{
			name:         "foreign key disagrees with generic",
			inv:          Invitation{ID: "i6", InvitedByLandlordID: "L1", InvitedBy: "L2", InvitedByRole: "landlord"},
			want:         landlord,
			wantConflict: true,
		},
		{
			name:         "generic names another user type",
			inv:          Invitation{ID: "i7", InvitedByLandlordID: "L1", InvitedBy: "L1", InvitedByRole: "pmc"},
			want:         landlord,
			wantConflict: true,
		},
		{
			name:         "foreign key with unreadable generic role",
			inv:          Invitation{ID: "i8", InvitedByLandlordID: "L1", InvitedBy: "L1", InvitedByRole: "owner"},
			want:         landlord,
			wantConflict: true,
		},
		{
			name:    "nothing set",
			inv:     Invitation{ID: "i9"},
			wantErr: ErrNoInviter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conflict, err := ResolveInviter(&tt.inv)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, conflict)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.wantConflict {
				require.NotNil(t, conflict)
				assert.Equal(t, tt.inv.ID, conflict.InvitationID)
				assert.Equal(t, tt.want, conflict.Resolved)
			} else {
				assert.Nil(t, conflict)
			}
		})
	}
}

func TestResolveInviterRejectsUnknownGenericRole(t *testing.T) {
	_, conflict, err := ResolveInviter(&Invitation{ID: "i1", InvitedBy: "X", InvitedByRole: "owner"})
	require.Error(t, err)
	assert.Nil(t, conflict)
	assert.True(t, rbac.IsValidationError(err))
}

func TestResolveInviterMultipleForeignKeys(t *testing.T) {
	got, conflict, err := ResolveInviter(&Invitation{ID: "i1", InvitedByLandlordID: "L1", InvitedByPMCID: "PA1"})
	assert.Equal(t, Inviter{}, got)
	assert.Nil(t, conflict)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var c *Conflict
	require.True(t, errors.As(err, &c))
	assert.Equal(t, "i1", c.InvitationID)
	assert.Contains(t, c.Detail, "2 inviter foreign keys")
}
