package rbac

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignmentScope optionally restricts an assignment. Every non-empty
// field narrows what the role would otherwise see.
type AssignmentScope struct {
	PMCID       string   `json:"pmc_id,omitempty"`
	LandlordID  string   `json:"landlord_id,omitempty"`
	PropertyIDs []string `json:"property_ids,omitempty"`
}

// Empty reports whether the scope restricts nothing.
func (s *AssignmentScope) Empty() bool {
	return s == nil || (s.PMCID == "" && s.LandlordID == "" && len(s.PropertyIDs) == 0)
}

// UserRoleAssignment binds one role to one (user id, user type) pair.
type UserRoleAssignment struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	UserType  UserType         `json:"user_type"`
	Role      Role             `json:"role"`
	Scope     *AssignmentScope `json:"scope,omitempty"`
	IsActive  bool             `json:"is_active"`
	GrantedBy string           `json:"granted_by,omitempty"`
	GrantedAt time.Time        `json:"granted_at"`
	RevokedAt *time.Time       `json:"revoked_at,omitempty"`
}

// AssignmentParams are the inputs for NewAssignment
type AssignmentParams struct {
	UserID    string
	UserType  UserType
	Role      Role
	Scope     *AssignmentScope
	GrantedBy string
	GrantedAt time.Time
}

// NewAssignment validates params and returns an active assignment with a
// fresh id.
func NewAssignment(params AssignmentParams) (*UserRoleAssignment, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if !params.UserType.Valid() {
		return nil, &ValidationError{Field: "user_type", Value: string(params.UserType), Reason: "unknown user type"}
	}
	if !params.Role.Valid() {
		return nil, &ValidationError{Field: "role", Value: params.Role.String(), Reason: "unknown role"}
	}
	if !params.UserType.AdmitsRole(params.Role) {
		return nil, &ValidationError{
			Field:  "role",
			Value:  params.Role.String(),
			Reason: "not assignable to user type " + string(params.UserType),
		}
	}
	if (params.Role == RolePMCAdmin || params.Role == RolePM) && (params.Scope == nil || params.Scope.PMCID == "") {
		return nil, &ValidationError{Field: "scope.pmc_id", Reason: "required for " + params.Role.String()}
	}

	grantedAt := params.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now().UTC()
	}

	var scope *AssignmentScope
	if !params.Scope.Empty() {
		cp := *params.Scope
		cp.PropertyIDs = append([]string(nil), params.Scope.PropertyIDs...)
		scope = &cp
	}

	return &UserRoleAssignment{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		UserType:  params.UserType,
		Role:      params.Role,
		Scope:     scope,
		IsActive:  true,
		GrantedBy: params.GrantedBy,
		GrantedAt: grantedAt,
	}, nil
}

// Effective reports whether the assignment currently grants anything.
func (a *UserRoleAssignment) Effective() bool {
	return a != nil && a.IsActive && a.RevokedAt == nil
}
