package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/harness"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// errVerifyFailed makes a plan with failed expectations exit non-zero
var errVerifyFailed = errors.New("verification failed")

// verifyPlan is the YAML document read by `tenantguard verify`
type verifyPlan struct {
	Subjects          []planSubject `yaml:"subjects"`
	PMCIsolation      []planPair    `yaml:"pmcIsolation"`
	LandlordIsolation []planPair    `yaml:"landlordIsolation"`
}

type planSubject struct {
	UserID   string `yaml:"userId"`
	UserType string `yaml:"userType"`
	// Role, when set, checks the subject holds exactly this role's
	// default permissions
	Role   string           `yaml:"role"`
	Denied []planPermission `yaml:"denied"`
	Access []planAccess     `yaml:"access"`
}

type planPermission struct {
	Category string `yaml:"category"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

type planAccess struct {
	ResourceType string `yaml:"resourceType"`
	ResourceID   string `yaml:"resourceId"`
	Allowed      bool   `yaml:"allowed"`
}

type planTenant struct {
	UserID    string       `yaml:"userId"`
	UserType  string       `yaml:"userType"`
	Resources []planAccess `yaml:"resources"`
}

type planPair struct {
	A planTenant `yaml:"a"`
	B planTenant `yaml:"b"`
}

func decodePlan(r io.Reader) (*verifyPlan, error) {
	var plan verifyPlan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to parse verify plan: %w", err)
	}
	return &plan, nil
}

func newVerifyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify <plan.yaml>",
		Short: "Replay a permission and isolation plan against the configured store",
		Long: `Replay the expectations in a YAML plan against the engine and report
every check that did not hold. The command exits non-zero when any check
fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			plan, err := decodePlan(f)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report := runPlan(cmd.Context(), a.engine, plan)
			if err := writeReport(cmd.OutOrStdout(), report, jsonOutput); err != nil {
				return err
			}
			if !report.OK() {
				return errVerifyFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full report as JSON")

	return cmd
}

func runPlan(ctx context.Context, engine *authz.Engine, plan *verifyPlan) harness.Report {
	var report harness.Report
	reg := engine.Registry()

	for _, s := range plan.Subjects {
		// Unknown user types are reported by the harness as failed checks
		userType, _ := rbac.ParseUserType(s.UserType)
		subject := harness.Subject{UserID: s.UserID, UserType: userType}

		if s.Role != "" {
			role, err := rbac.ParseRole(s.Role)
			if err != nil {
				report = report.Merge(harness.Report{Failed: 1, Results: []harness.Result{{
					Name:  subject.String() + " role " + s.Role,
					Error: err.Error(),
				}}})
			} else {
				report = report.Merge(harness.VerifyRolePermissions(ctx, engine, subject, reg.DefaultPermissions(role)))
			}
		}
		if len(s.Denied) > 0 {
			denied := make([]rbac.Permission, 0, len(s.Denied))
			for _, p := range s.Denied {
				denied = append(denied, rbac.Permission{
					Category: rbac.Category(p.Category),
					Resource: rbac.Resource(p.Resource),
					Action:   rbac.Action(p.Action),
				})
			}
			report = report.Merge(harness.VerifyDeniedPermissions(ctx, engine, subject, denied))
		}
		if len(s.Access) > 0 {
			cases := make([]harness.AccessCase, 0, len(s.Access))
			for _, ac := range s.Access {
				cases = append(cases, harness.AccessCase{
					Target:           harness.Target{ResourceType: rbac.Resource(ac.ResourceType), ResourceID: ac.ResourceID},
					ShouldHaveAccess: ac.Allowed,
				})
			}
			report = report.Merge(harness.VerifyScopeEnforcement(ctx, engine, subject, cases))
		}
	}

	for _, pair := range plan.PMCIsolation {
		report = report.Merge(harness.VerifyCrossPMCIsolation(ctx, engine, pair.A.tenant(), pair.B.tenant()))
	}
	for _, pair := range plan.LandlordIsolation {
		report = report.Merge(harness.VerifyCrossLandlordIsolation(ctx, engine, pair.A.tenant(), pair.B.tenant()))
	}
	return report
}

func (t planTenant) tenant() harness.Tenant {
	userType, _ := rbac.ParseUserType(t.UserType)
	out := harness.Tenant{Subject: harness.Subject{UserID: t.UserID, UserType: userType}}
	for _, r := range t.Resources {
		out.Resources = append(out.Resources, harness.Target{ResourceType: rbac.Resource(r.ResourceType), ResourceID: r.ResourceID})
	}
	return out
}

func writeReport(w io.Writer, report harness.Report, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	for _, res := range report.Failures() {
		line := fmt.Sprintf("FAIL %s: expected %t, got %t", res.Name, res.Expected, res.Got)
		if res.Error != "" {
			line += " (" + res.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%d passed, %d failed\n", report.Passed, report.Failed)
	return nil
}
