package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/authz"
)

func TestCheckCommand(t *testing.T) {
	seededSQLite(t)

	tests := []struct {
		name     string
		args     []string
		denied   bool
		contains []string
	}{
		{
			name:     "landlord reads own property",
			args:     []string{"--user-id", "L1", "--user-type", "landlord", "--resource", "property", "--action", "read", "--resource-id", "PR1"},
			contains: []string{"ALLOW", "landlord:L1", "PROPERTY_MANAGEMENT:property:READ", "role landlord"},
		},
		{
			name:     "landlord reads another landlord's property",
			args:     []string{"--user-id", "L1", "--user-type", "landlord", "--resource", "property", "--action", "READ", "--resource-id", "PR9"},
			denied:   true,
			contains: []string{"DENY", "resource_out_of_scope"},
		},
		{
			name:     "pmc admin reads audit log",
			args:     []string{"--user-id", "PA1", "--user-type", "PMC", "--resource", "audit_log", "--action", "READ"},
			contains: []string{"ALLOW", "role pmc_admin"},
		},
		{
			name:     "landlord has no audit access",
			args:     []string{"--user-id", "L1", "--user-type", "landlord", "--resource", "audit_log", "--action", "READ"},
			denied:   true,
			contains: []string{"role_lacks_permission"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"check"}, tt.args...)...)
			if tt.denied {
				assert.ErrorIs(t, err, errDenied)
			} else {
				assert.NoError(t, err)
			}
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCheckCommandJSON(t *testing.T) {
	seededSQLite(t)

	out, err := execute(t, "check", "--user-id", "L5", "--user-type", "landlord", "--resource", "property", "--action", "READ", "--json")
	assert.ErrorIs(t, err, errDenied)

	var resp authz.CheckResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, "no_active_assignment", resp.Reason)
	assert.Empty(t, resp.Role)
}

func TestCheckCommandRejectsBadInput(t *testing.T) {
	t.Setenv("TENANTGUARD_LOG_LEVEL", "error")

	_, err := execute(t, "check", "--user-id", "L1", "--user-type", "owner", "--resource", "property", "--action", "READ")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errDenied)

	_, err = execute(t, "check", "--user-id", "L1", "--user-type", "landlord")
	assert.ErrorContains(t, err, "required flag")
}
