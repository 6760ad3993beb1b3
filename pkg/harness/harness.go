// Package harness replays permission matrices and cross-tenant access
// attempts against an authz.Authorizer and reports which expectations held.
//
// The functions only use the public Authorizer contract, so they can be
// pointed at a deployed engine as well as at one built in a test.
package harness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// maxConcurrency bounds the checks in flight for one Verify call
const maxConcurrency = 8

// Subject is the identity a check runs as
type Subject struct {
	UserID   string        `json:"user_id"`
	UserType rbac.UserType `json:"user_type"`
}

func (s Subject) String() string {
	return string(s.UserType) + ":" + s.UserID
}

// Target is a concrete resource
type Target struct {
	ResourceType rbac.Resource `json:"resource_type"`
	ResourceID   string        `json:"resource_id"`
}

func (t Target) String() string {
	return string(t.ResourceType) + ":" + t.ResourceID
}

// AccessCase is one row of a scope matrix
type AccessCase struct {
	Target
	ShouldHaveAccess bool `json:"should_have_access"`
}

// Tenant is an isolated identity together with resources inside its scope
type Tenant struct {
	Subject
	Resources []Target `json:"resources"`
}

// Result is the outcome of one check
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected bool   `json:"expected"`
	Got      bool   `json:"got"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a run. Results are in input order.
type Report struct {
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// OK reports whether every check passed
func (r Report) OK() bool {
	return r.Failed == 0
}

// Failures returns the failed results
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Merge appends other to r
func (r Report) Merge(other Report) Report {
	return Report{
		Passed:  r.Passed + other.Passed,
		Failed:  r.Failed + other.Failed,
		Results: append(append([]Result(nil), r.Results...), other.Results...),
	}
}

// run evaluates n checks concurrently and assembles them in order
func run(ctx context.Context, n int, check func(ctx context.Context, i int) Result) Report {
	results := make([]Result, n)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrency)
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			results[i] = check(ctx, i)
			return nil
		})
	}
	_ = eg.Wait()

	report := Report{Results: results}
	for _, res := range results {
		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	return report
}

func permissionResult(name string, expected bool, got bool, err error) Result {
	res := Result{Name: name, Expected: expected, Got: got}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Passed = got == expected
	return res
}

// VerifyRolePermissions asserts that every expected permission is granted
// to subject
func VerifyRolePermissions(ctx context.Context, az authz.Authorizer, subject Subject, expected []rbac.Permission) Report {
	return verifyPermissions(ctx, az, subject, expected, true)
}

// VerifyDeniedPermissions asserts that none of denied is granted to subject
func VerifyDeniedPermissions(ctx context.Context, az authz.Authorizer, subject Subject, denied []rbac.Permission) Report {
	return verifyPermissions(ctx, az, subject, denied, false)
}

func verifyPermissions(ctx context.Context, az authz.Authorizer, subject Subject, perms []rbac.Permission, want bool) Report {
	return run(ctx, len(perms), func(ctx context.Context, i int) Result {
		p := perms[i]
		got, err := az.HasPermission(ctx, subject.UserID, subject.UserType, p.Resource, p.Action, p.Category)
		return permissionResult(fmt.Sprintf("%s has %s", subject, p), want, got, err)
	})
}

// VerifyScopeEnforcement asserts that CanAccess matches every row of cases
func VerifyScopeEnforcement(ctx context.Context, az authz.Authorizer, subject Subject, cases []AccessCase) Report {
	return run(ctx, len(cases), func(ctx context.Context, i int) Result {
		c := cases[i]
		got := az.CanAccess(ctx, subject.UserID, subject.UserType, c.ResourceID, c.ResourceType)
		return permissionResult(fmt.Sprintf("%s can access %s", subject, c.Target), c.ShouldHaveAccess, got, nil)
	})
}

// VerifyCrossPMCIsolation asserts that neither PMC identity can access any
// resource scoped to the other
func VerifyCrossPMCIsolation(ctx context.Context, az authz.Authorizer, a, b Tenant) Report {
	return verifyIsolation(ctx, az, rbac.UserTypePMC, a, b)
}

// VerifyCrossLandlordIsolation asserts that neither landlord can access any
// resource scoped to the other
func VerifyCrossLandlordIsolation(ctx context.Context, az authz.Authorizer, a, b Tenant) Report {
	return verifyIsolation(ctx, az, rbac.UserTypeLandlord, a, b)
}

type attempt struct {
	actor  Subject
	target Target
}

func verifyIsolation(ctx context.Context, az authz.Authorizer, userType rbac.UserType, a, b Tenant) Report {
	var invalid []Result
	for _, t := range []Tenant{a, b} {
		if t.UserType != userType {
			invalid = append(invalid, Result{
				Name:  fmt.Sprintf("%s is a %s identity", t.Subject, userType),
				Error: fmt.Sprintf("expected user type %s, got %q", userType, t.UserType),
			})
		}
	}
	if a.Subject == b.Subject {
		invalid = append(invalid, Result{
			Name:  fmt.Sprintf("%s and %s are distinct", a.Subject, b.Subject),
			Error: "isolation needs two distinct identities",
		})
	}
	if len(invalid) > 0 {
		return Report{Failed: len(invalid), Results: invalid}
	}

	attempts := make([]attempt, 0, len(a.Resources)+len(b.Resources))
	for _, target := range b.Resources {
		attempts = append(attempts, attempt{actor: a.Subject, target: target})
	}
	for _, target := range a.Resources {
		attempts = append(attempts, attempt{actor: b.Subject, target: target})
	}

	return run(ctx, len(attempts), func(ctx context.Context, i int) Result {
		at := attempts[i]
		got := az.CanAccess(ctx, at.actor.UserID, at.actor.UserType, at.target.ResourceID, at.target.ResourceType)
		return permissionResult(fmt.Sprintf("%s cannot access %s", at.actor, at.target), false, got, nil)
	})
}
