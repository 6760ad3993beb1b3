package scope

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// ChangeEvent names the entities whose relationships, properties, leases
// or work orders changed. Any cached scope touching one of them is dropped.
// An event with no ids drops everything.
type ChangeEvent struct {
	PMCID      string `json:"pmc_id,omitempty"`
	LandlordID string `json:"landlord_id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	VendorID   string `json:"vendor_id,omitempty"`
}

func (e ChangeEvent) all() bool {
	return e.PMCID == "" && e.LandlordID == "" && e.TenantID == "" && e.VendorID == ""
}

func (e ChangeEvent) touches(sc *ScopeContext) bool {
	if e.PMCID != "" {
		if _, ok := sc.pmcs[e.PMCID]; ok {
			return true
		}
	}
	if e.LandlordID != "" {
		if _, ok := sc.landlords[e.LandlordID]; ok {
			return true
		}
	}
	if e.TenantID != "" && sc.role == rbac.RoleTenant && sc.self == e.TenantID {
		return true
	}
	if e.VendorID != "" && sc.role == rbac.RoleVendor && sc.self == e.VendorID {
		return true
	}
	return false
}

// Invalidator drops cached scopes affected by a change
type Invalidator interface {
	Invalidate(ev ChangeEvent) int
}

// Clock is implemented by resolvers that judge relationship ends against
// their own notion of now
type Clock interface {
	Now() time.Time
}

// CachingResolver memoizes resolved scopes per assignment for a bounded
// time. Entries are dropped explicitly through Invalidate whenever the
// storage layer reports a change, and on their own once a relationship they
// include reaches its end.
type CachingResolver struct {
	next    Resolver
	cache   *lru.LRU[string, *ScopeContext]
	group   singleflight.Group
	metrics *observability.Metrics
	now     func() time.Time

	// generation advances on every invalidation; a fill started before an
	// invalidation is not stored
	generation atomic.Uint64
}

// NewCachingResolver wraps next with an LRU of size entries living at most
// ttl. Entries are also dropped at their ExpiresAt, read from next's clock
// when next is a Clock.
func NewCachingResolver(next Resolver, size int, ttl time.Duration, metrics *observability.Metrics) *CachingResolver {
	if size <= 0 {
		size = 10000
	}
	c := &CachingResolver{
		next:    next,
		cache:   lru.NewLRU[string, *ScopeContext](size, nil, ttl),
		metrics: metrics,
		now:     time.Now,
	}
	if clock, ok := next.(Clock); ok {
		c.now = clock.Now
	}
	return c
}

// Resolve returns the cached scope or resolves and stores it. Failures are
// never cached.
func (c *CachingResolver) Resolve(ctx context.Context, a *rbac.UserRoleAssignment) (*ScopeContext, error) {
	if a == nil || a.ID == "" {
		return c.next.Resolve(ctx, a)
	}

	key := a.ID
	if sc, ok := c.cache.Get(key); ok {
		if !sc.ExpiredAt(c.now()) {
			c.metrics.ObserveScopeCache(true)
			return sc, nil
		}
		c.cache.Remove(key)
	}
	c.metrics.ObserveScopeCache(false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		gen := c.generation.Load()
		sc, err := c.next.Resolve(ctx, a)
		if err != nil {
			return nil, err
		}
		if c.generation.Load() == gen && !sc.ExpiredAt(c.now()) {
			c.cache.Add(key, sc)
		}
		return sc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ScopeContext), nil
}

// Invalidate drops every cached scope touched by ev and returns how many
func (c *CachingResolver) Invalidate(ev ChangeEvent) int {
	c.generation.Add(1)
	if ev.all() {
		n := c.cache.Len()
		c.cache.Purge()
		c.metrics.ObserveScopeInvalidation("purge", n)
		return n
	}

	dropped := 0
	for _, key := range c.cache.Keys() {
		sc, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if ev.touches(sc) {
			c.cache.Remove(key)
			dropped++
		}
	}
	c.metrics.ObserveScopeInvalidation("event", dropped)
	return dropped
}

// Forget drops the cached scope of one assignment, used on revocation
func (c *CachingResolver) Forget(assignmentID string) {
	c.generation.Add(1)
	c.cache.Remove(assignmentID)
}

// Len returns the number of cached scopes
func (c *CachingResolver) Len() int {
	return c.cache.Len()
}
