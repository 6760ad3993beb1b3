package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/invitations"
)

var _ invitations.Repository = (*Invitations)(nil)

// Invitations implements invitations.Repository in memory
type Invitations struct {
	mu           sync.RWMutex
	invitations  map[string]invitations.Invitation
	applications map[string]invitations.Application
}

// NewInvitations creates an empty repository
func NewInvitations() *Invitations {
	return &Invitations{
		invitations:  make(map[string]invitations.Invitation),
		applications: make(map[string]invitations.Application),
	}
}

func (r *Invitations) CreateInvitation(_ context.Context, inv *invitations.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invitations[inv.ID] = *inv
	return nil
}

func (r *Invitations) GetInvitation(_ context.Context, id string) (*invitations.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invitations[id]
	if !ok {
		return nil, invitations.ErrNotFound
	}
	return &inv, nil
}

func (r *Invitations) InvitationsByInviter(_ context.Context, userID string) ([]*invitations.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*invitations.Invitation
	for _, inv := range r.invitations {
		if inv.InvitedBy == userID || inv.InvitedByAdminID == userID ||
			inv.InvitedByLandlordID == userID || inv.InvitedByPMCID == userID {
			cp := inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Invitations) ScanInvitations(_ context.Context, afterID string, limit int) ([]*invitations.Invitation, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.invitations))
	for id := range r.invitations {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*invitations.Invitation, 0, len(ids))
	for _, id := range ids {
		inv := r.invitations[id]
		out = append(out, &inv)
	}
	r.mu.RUnlock()
	return out, nil
}

func (r *Invitations) CreateApplication(_ context.Context, app *invitations.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invitations[app.InvitationID]; !ok {
		return invitations.ErrNotFound
	}
	cp := *app
	if cp.Status == "" {
		cp.Status = invitations.StatusPending
	}
	r.applications[app.ID] = cp
	return nil
}

func (r *Invitations) GetApplication(_ context.Context, id string) (*invitations.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.applications[id]
	if !ok {
		return nil, invitations.ErrNotFound
	}
	return &app, nil
}

func (r *Invitations) ApplicationsForInvitations(_ context.Context, invitationIDs []string) ([]*invitations.Application, error) {
	want := setOf(invitationIDs)
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*invitations.Application{}
	for _, app := range r.applications {
		if want[app.InvitationID] {
			cp := app
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Invitations) DecideApplication(_ context.Context, id string, status invitations.Status, decidedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.applications[id]
	if !ok {
		return invitations.ErrNotFound
	}
	if app.Status != invitations.StatusPending {
		return invitations.ErrInvalidTransition
	}
	decidedAt := at.UTC()
	app.Status, app.DecidedBy, app.DecidedAt = status, decidedBy, &decidedAt
	r.applications[id] = app
	return nil
}
