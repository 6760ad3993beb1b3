package invitations

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// ResolveInviter determines who sent inv.
//
// The role specific foreign keys are authoritative. The generic
// InvitedBy / InvitedByRole pair is only consulted when every foreign key is
// NULL. When a foreign key and the generic pair are both present and name
// different inviters, the foreign key inviter is returned together with a
// *Conflict so the row can be reconciled. More than one foreign key is a
// *Conflict with no usable inviter.
func ResolveInviter(inv *Invitation) (Inviter, *Conflict, error) {
	var fks []Inviter
	if inv.InvitedByAdminID != "" {
		fks = append(fks, Inviter{UserID: inv.InvitedByAdminID, UserType: rbac.UserTypeAdmin})
	}
	if inv.InvitedByLandlordID != "" {
		fks = append(fks, Inviter{UserID: inv.InvitedByLandlordID, UserType: rbac.UserTypeLandlord})
	}
	if inv.InvitedByPMCID != "" {
		fks = append(fks, Inviter{UserID: inv.InvitedByPMCID, UserType: rbac.UserTypePMC})
	}

	generic, genericErr := genericInviter(inv)

	switch len(fks) {
	case 0:
		if genericErr != nil {
			return Inviter{}, nil, genericErr
		}
		return generic, nil, nil
	case 1:
		fk := fks[0]
		if genericErr != nil && !errors.Is(genericErr, ErrNoInviter) {
			return fk, &Conflict{InvitationID: inv.ID, Resolved: fk, Detail: genericErr.Error()}, nil
		}
		if genericErr == nil && generic != fk {
			return fk, &Conflict{
				InvitationID: inv.ID,
				Resolved:     fk,
				Generic:      generic,
				Detail:       fmt.Sprintf("foreign key names %s:%s, generic field names %s:%s", fk.UserType, fk.UserID, generic.UserType, generic.UserID),
			}, nil
		}
		return fk, nil, nil
	default:
		return Inviter{}, nil, &Conflict{
			InvitationID: inv.ID,
			Generic:      generic,
			Detail:       fmt.Sprintf("%d inviter foreign keys are set", len(fks)),
		}
	}
}

// genericInviter reads the fallback fields. ErrNoInviter means they are empty.
func genericInviter(inv *Invitation) (Inviter, error) {
	if inv.InvitedBy == "" {
		return Inviter{}, ErrNoInviter
	}
	userType, err := parseInviterRole(inv.InvitedByRole)
	if err != nil {
		return Inviter{}, fmt.Errorf("invitation %s: %w", inv.ID, err)
	}
	return Inviter{UserID: inv.InvitedBy, UserType: userType}, nil
}

// parseInviterRole accepts a user type or a role name
func parseInviterRole(raw string) (rbac.UserType, error) {
	if userType, err := rbac.ParseUserType(raw); err == nil {
		return userType, nil
	}
	role, err := rbac.ParseRole(raw)
	if err != nil {
		return "", &rbac.ValidationError{Field: "invited_by_role", Value: raw, Reason: "unknown inviter role"}
	}
	for _, userType := range rbac.UserTypes() {
		if userType.AdmitsRole(role) {
			return userType, nil
		}
	}
	return "", &rbac.ValidationError{Field: "invited_by_role", Value: raw, Reason: "role has no user type"}
}
