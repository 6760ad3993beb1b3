package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// errDenied makes a denied check exit non-zero
var errDenied = errors.New("access denied")

type checkFlags struct {
	userID     string
	userType   string
	category   string
	resource   string
	action     string
	resourceID string
	jsonOutput bool
}

func newCheckCmd() *cobra.Command {
	var f checkFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one permission against the configured store",
		Example: `  tenantguard check --user-id L1 --user-type landlord --resource property --action READ
  tenantguard check --user-id PA1 --user-type pmc --resource lease --action UPDATE --resource-id LS7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.userID, "user-id", "", "user to check (required)")
	cmd.Flags().StringVar(&f.userType, "user-type", "", "admin, pmc, landlord, tenant or vendor (required)")
	cmd.Flags().StringVar(&f.category, "category", "", "permission category (default is the resource's category)")
	cmd.Flags().StringVar(&f.resource, "resource", "", "resource type (required)")
	cmd.Flags().StringVar(&f.action, "action", "", "CREATE, READ, UPDATE, DELETE or MANAGE (required)")
	cmd.Flags().StringVar(&f.resourceID, "resource-id", "", "concrete target that must be in scope")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Output as JSON")
	for _, name := range []string{"user-id", "user-type", "resource", "action"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runCheck(cmd *cobra.Command, f checkFlags) error {
	userType, err := rbac.ParseUserType(f.userType)
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

	c := authz.Check{
		UserID:     f.userID,
		UserType:   userType,
		Category:   rbac.Category(strings.ToUpper(f.category)),
		Resource:   rbac.Resource(strings.ToLower(f.resource)),
		Action:     rbac.Action(strings.ToUpper(f.action)),
		ResourceID: f.resourceID,
	}
	if c.Category == "" {
		if category, ok := a.registry.Catalog().CategoryOf(c.Resource); ok {
			c.Category = category
		}
	}

	d, err := a.engine.Evaluate(cmd.Context(), c)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.jsonOutput {
		resp := authz.CheckResponse{Allowed: d.Allowed, Reason: d.Reason, CheckedAt: d.CheckedAt}
		if d.Role.Valid() {
			resp.Role = d.Role.String()
		}
		if err := json.NewEncoder(out).Encode(resp); err != nil {
			return err
		}
	} else {
		verdict := "DENY"
		if d.Allowed {
			verdict = "ALLOW"
		}
		role := "-"
		if d.Role.Valid() {
			role = d.Role.String()
		}
		perm := rbac.Permission{Category: c.Category, Resource: c.Resource, Action: c.Action}
		fmt.Fprintf(out, "%s %s:%s %s (role %s, %s)\n", verdict, userType, f.userID, perm, role, d.Reason)
	}

	if !d.Allowed {
		return errDenied
	}
	return nil
}
