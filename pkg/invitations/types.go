package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

var (
	// ErrNotFound is returned for an unknown invitation or application
	ErrNotFound = errors.New("invitation not found")
	// ErrInvalidTransition is returned when an application is no longer pending
	ErrInvalidTransition = errors.New("application is not pending")
	// ErrNoInviter is returned when an invitation names no inviter at all
	ErrNoInviter = errors.New("invitation has no inviter")
	// ErrForbidden is returned when the actor may not perform the transition
	ErrForbidden = errors.New("not permitted")
)

// Status is the state of an application
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Invitation asks a prospective tenant to apply for a property. It carries
// two generations of inviter fields: the role specific foreign keys and the
// older generic InvitedBy / InvitedByRole pair. Empty strings mean NULL.
type Invitation struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	PropertyID string `json:"property_id,omitempty"`
	LandlordID string `json:"landlord_id,omitempty"`

	InvitedBy     string `json:"invited_by,omitempty"`
	InvitedByRole string `json:"invited_by_role,omitempty"`

	// Each foreign key holds the user id of the inviting account of that
	// user type. InvitedByPMCID is a pmc user (pmc_admin or pm), not the
	// PMC organization the user belongs to.
	InvitedByAdminID    string `json:"invited_by_admin_id,omitempty"`
	InvitedByLandlordID string `json:"invited_by_landlord_id,omitempty"`
	InvitedByPMCID      string `json:"invited_by_pmc_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Application is a tenant's response to an invitation
type Application struct {
	ID           string     `json:"id"`
	InvitationID string     `json:"invitation_id"`
	ApplicantID  string     `json:"applicant_id"`
	Status       Status     `json:"status"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecidedBy    string     `json:"decided_by,omitempty"`
}

// Inviter identifies who sent an invitation
type Inviter struct {
	UserID   string        `json:"user_id"`
	UserType rbac.UserType `json:"user_type"`
}

// Conflict describes an invitation whose inviter fields disagree
type Conflict struct {
	InvitationID string  `json:"invitation_id"`
	Resolved     Inviter `json:"resolved"`
	Generic      Inviter `json:"generic"`
	Detail       string  `json:"detail"`
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("invitation %s: inviter conflict: %s", c.InvitationID, c.Detail)
}

// IsConflict reports whether err is a *Conflict
func IsConflict(err error) bool {
	var c *Conflict
	return errors.As(err, &c)
}

// Repository is the storage the workflow runs against
type Repository interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	// InvitationsByInviter returns invitations where any inviter column
	// equals userID. Callers apply ResolveInviter.
	InvitationsByInviter(ctx context.Context, userID string) ([]*Invitation, error)
	// ScanInvitations pages through all invitations ordered by id
	ScanInvitations(ctx context.Context, afterID string, limit int) ([]*Invitation, error)

	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	ApplicationsForInvitations(ctx context.Context, invitationIDs []string) ([]*Application, error)
	// DecideApplication moves a pending application to status. It returns
	// ErrInvalidTransition when the application is not pending.
	DecideApplication(ctx context.Context, id string, status Status, decidedBy string, at time.Time) error
}
