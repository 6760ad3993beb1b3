package rbac

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Validate(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name    string
		perm    Permission
		wantErr bool
	}{
		{"valid triple", Permission{CategoryPropertyManagement, ResourceProperty, ActionRead}, false},
		{"manage is valid", Permission{CategoryAudit, ResourceAuditLog, ActionManage}, false},
		{"unknown resource", Permission{CategoryPropertyManagement, Resource("garage"), ActionRead}, true},
		{"category mismatch", Permission{CategoryFinancial, ResourceProperty, ActionRead}, true},
		{"unknown action", Permission{CategoryPropertyManagement, ResourceProperty, Action("ARCHIVE")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Validate(tt.perm)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCatalog_EveryResourceHasOneCategory(t *testing.T) {
	c := DefaultCatalog()
	seen := make(map[Resource]bool)
	for _, res := range c.Resources() {
		assert.False(t, seen[res], "resource %s listed twice", res)
		seen[res] = true
		_, ok := c.CategoryOf(res)
		assert.True(t, ok)
	}
	assert.Len(t, seen, 17)
}

func TestNewRegistry_Default(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), DefaultRoleTable())
	require.NoError(t, err)

	for _, role := range Roles() {
		assert.True(t, reg.RoleExists(role.String()), role.String())
	}
	assert.False(t, reg.RoleExists("owner"))
	assert.False(t, reg.RoleExists(""))
}

func TestNewRegistry_ConfigurationErrors(t *testing.T) {
	t.Run("missing role", func(t *testing.T) {
		table := DefaultRoleTable()
		delete(table, RoleVendor)
		_, err := NewRegistry(nil, table)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "vendor")
	})

	t.Run("unknown resource", func(t *testing.T) {
		table := DefaultRoleTable()
		table[RoleTenant].ResourcePermissions[Resource("garage")] = []Action{ActionRead}
		_, err := NewRegistry(nil, table)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("unknown action", func(t *testing.T) {
		table := DefaultRoleTable()
		table[RoleTenant].ResourcePermissions[ResourceLease] = []Action{"SIGN"}
		_, err := NewRegistry(nil, table)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("inheritance cycle", func(t *testing.T) {
		table := DefaultRoleTable()
		pm := table[RolePM]
		pm.Inherits = []Role{RolePMCAdmin}
		table[RolePM] = pm
		_, err := NewRegistry(nil, table)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("unknown role key", func(t *testing.T) {
		table := DefaultRoleTable()
		table[Role(42)] = RoleDefinition{}
		_, err := NewRegistry(nil, table)
		require.Error(t, err)
	})

	t.Run("MustNewRegistry panics", func(t *testing.T) {
		table := DefaultRoleTable()
		delete(table, RoleLandlord)
		assert.Panics(t, func() { MustNewRegistry(nil, table) })
	})
}

func TestRegistry_Allows(t *testing.T) {
	reg := MustNewRegistry(nil, DefaultRoleTable())
	c := reg.Catalog()

	perm := func(res Resource, a Action) Permission {
		p, err := c.Permission(res, a)
		require.NoError(t, err)
		return p
	}

	t.Run("manage subsumes crud on same resource", func(t *testing.T) {
		for _, a := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage} {
			assert.True(t, reg.Allows(RoleLandlord, perm(ResourceProperty, a)), a)
		}
	})

	t.Run("manage does not leak to other resources", func(t *testing.T) {
		assert.True(t, reg.Allows(RoleLandlord, perm(ResourceUnit, ActionDelete)))
		assert.False(t, reg.Allows(RoleLandlord, perm(ResourceLease, ActionDelete)))
	})

	t.Run("crud does not imply manage", func(t *testing.T) {
		assert.True(t, reg.Allows(RolePM, perm(ResourceProperty, ActionDelete)))
		assert.False(t, reg.Allows(RolePM, perm(ResourceProperty, ActionManage)))
	})

	t.Run("landlord has no audit_log access", func(t *testing.T) {
		for _, a := range Actions() {
			assert.False(t, reg.Allows(RoleLandlord, perm(ResourceAuditLog, a)), a)
		}
	})

	t.Run("inherited permissions", func(t *testing.T) {
		assert.True(t, reg.Allows(RolePMCAdmin, perm(ResourceLease, ActionCreate)))
		assert.True(t, reg.Allows(RolePMCAdmin, perm(ResourceAuditLog, ActionRead)))
		assert.False(t, reg.Allows(RolePM, perm(ResourceAuditLog, ActionRead)))
	})

	t.Run("super admin manages everything", func(t *testing.T) {
		for _, res := range c.Resources() {
			assert.True(t, reg.Allows(RoleSuperAdmin, perm(res, ActionDelete)), res)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		assert.False(t, reg.Allows(RoleUnknown, perm(ResourceProperty, ActionRead)))
	})
}

func TestRegistry_DefaultPermissions(t *testing.T) {
	reg := MustNewRegistry(nil, DefaultRoleTable())

	perms := reg.DefaultPermissions(RoleTenant)
	require.NotEmpty(t, perms)
	assert.Equal(t, ResourceTenant, perms[0].Resource)
	assert.Equal(t, ActionRead, perms[0].Action)

	perms[0].Action = ActionManage
	assert.Equal(t, ActionRead, reg.DefaultPermissions(RoleTenant)[0].Action, "returned slice must be a copy")

	assert.Panics(t, func() { reg.DefaultPermissions(RoleUnknown) })
}

func TestRoleTable_YAMLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRoleTable(&buf, DefaultRoleTable()))

	table, err := DecodeRoleTable(&buf)
	require.NoError(t, err)

	reg, err := NewRegistry(nil, table)
	require.NoError(t, err)
	def := MustNewRegistry(nil, DefaultRoleTable())
	for _, role := range Roles() {
		assert.Equal(t, def.DefaultPermissions(role), reg.DefaultPermissions(role), role.String())
	}
}

func TestDecodeRoleTable(t *testing.T) {
	t.Run("lowercase actions", func(t *testing.T) {
		src := `
roles:
  landlord:
    resourcePermissions:
      property: [manage]
      audit_log: []
`
		table, err := DecodeRoleTable(strings.NewReader(src))
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionManage}, table[RoleLandlord].ResourcePermissions[ResourceProperty])
		assert.Empty(t, table[RoleLandlord].ResourcePermissions[ResourceAuditLog])
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := DecodeRoleTable(strings.NewReader("roles:\n  owner: {}\n"))
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := DecodeRoleTable(strings.NewReader("roles:\n  tenant:\n    grants: {}\n"))
		require.Error(t, err)
	})

	t.Run("partial table fails registry validation", func(t *testing.T) {
		table, err := DecodeRoleTable(strings.NewReader("roles:\n  tenant: {}\n"))
		require.NoError(t, err)
		_, err = NewRegistry(nil, table)
		assert.True(t, IsConfigurationError(err))
	})
}
