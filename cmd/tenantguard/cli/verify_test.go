package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingPlan = `
subjects:
  - userId: PA1
    userType: pmc
    role: pmc_admin
    denied:
      - {category: USER_MANAGEMENT, resource: pmc, action: DELETE}
    access:
      - {resourceType: property, resourceId: PR1, allowed: true}
      - {resourceType: property, resourceId: PR9, allowed: false}
      - {resourceType: landlord, resourceId: L1, allowed: true}
landlordIsolation:
  - a:
      userId: L1
      userType: landlord
      resources: [{resourceType: property, resourceId: PR1}]
    b:
      userId: L9
      userType: landlord
      resources: [{resourceType: property, resourceId: PR9}]
`

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVerifyCommand(t *testing.T) {
	seededSQLite(t)

	out, err := execute(t, "verify", writePlan(t, passingPlan))
	require.NoError(t, err, out)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "0 failed"), out)
	assert.NotContains(t, out, "FAIL")
}

func TestVerifyCommandReportsFailures(t *testing.T) {
	seededSQLite(t)

	plan := `
subjects:
  - userId: L1
    userType: landlord
    role: pmc_admin
    access:
      - {resourceType: property, resourceId: PR9, allowed: true}
`
	out, err := execute(t, "verify", writePlan(t, plan))
	assert.ErrorIs(t, err, errVerifyFailed)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "landlord:L1")
}

func TestVerifyCommandRejectsUnknownPlanFields(t *testing.T) {
	_, err := execute(t, "verify", writePlan(t, "subjectz: []\n"))
	assert.ErrorContains(t, err, "verify plan")
}
