// Package invitations implements the approval side of tenant invitations.
//
// A landlord, PMC operator or admin invites a prospective tenant to a
// property; the tenant submits an Application; the inviter approves or
// rejects it. Workflow asks the decision engine before every transition
// and only lets the resolved inviter (or a super admin) decide.
//
// Invitations carry both role specific inviter foreign keys and a generic
// InvitedBy / InvitedByRole pair. ResolveInviter treats the foreign keys as
// authoritative and the generic pair as a fallback, and reports rows where
// they disagree. Such rows are never acted on; Reconciler lists them on a
// cron schedule so they can be fixed by hand.
package invitations
