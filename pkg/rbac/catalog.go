package rbac

// Catalog is the static set of valid permission triples. Every resource
// belongs to exactly one category and accepts every action.
type Catalog struct {
	order      []Resource
	categories map[Resource]Category
	index      map[Resource]int
}

type catalogEntry struct {
	category  Category
	resources []Resource
}

var defaultCatalogEntries = []catalogEntry{
	{CategoryTenantManagement, []Resource{ResourceTenant, ResourceApplication, ResourceInvitation}},
	{CategoryPropertyManagement, []Resource{ResourceProperty, ResourceUnit}},
	{CategoryLeasing, []Resource{ResourceLease, ResourceDocument}},
	{CategoryFinancial, []Resource{ResourcePayment, ResourceInvoice, ResourceFinancialReport}},
	{CategoryMaintenance, []Resource{ResourceWorkOrder, ResourceVendor}},
	{CategoryUserManagement, []Resource{ResourceUser, ResourceRole, ResourceLandlord, ResourcePMC}},
	{CategoryAudit, []Resource{ResourceAuditLog}},
}

// DefaultCatalog returns the platform permission catalog
func DefaultCatalog() *Catalog {
	c := &Catalog{
		categories: make(map[Resource]Category),
		index:      make(map[Resource]int),
	}
	for _, entry := range defaultCatalogEntries {
		for _, res := range entry.resources {
			c.index[res] = len(c.order)
			c.order = append(c.order, res)
			c.categories[res] = entry.category
		}
	}
	return c
}

// Resources returns all resources in catalog order.
func (c *Catalog) Resources() []Resource {
	out := make([]Resource, len(c.order))
	copy(out, c.order)
	return out
}

// CategoryOf returns the category a resource belongs to.
func (c *Catalog) CategoryOf(res Resource) (Category, bool) {
	cat, ok := c.categories[res]
	return cat, ok
}

// Permission builds the triple for res and action, filling in the category.
func (c *Catalog) Permission(res Resource, action Action) (Permission, error) {
	cat, ok := c.categories[res]
	if !ok {
		return Permission{}, &ValidationError{Field: "resource", Value: string(res), Reason: "not in permission catalog"}
	}
	p := Permission{Category: cat, Resource: res, Action: action}
	if err := c.Validate(p); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// Validate checks that p names a catalogued triple.
func (c *Catalog) Validate(p Permission) error {
	cat, ok := c.categories[p.Resource]
	if !ok {
		return &ValidationError{Field: "resource", Value: string(p.Resource), Reason: "not in permission catalog"}
	}
	if p.Category != cat {
		return &ValidationError{
			Field:  "category",
			Value:  string(p.Category),
			Reason: "resource " + string(p.Resource) + " belongs to " + string(cat),
		}
	}
	if !validAction(p.Action) {
		return &ValidationError{Field: "action", Value: string(p.Action), Reason: "unknown action"}
	}
	return nil
}

// less orders permissions by catalog position, then action order.
func (c *Catalog) less(a, b Permission) bool {
	if a.Resource != b.Resource {
		return c.index[a.Resource] < c.index[b.Resource]
	}
	return actionRank(a.Action) < actionRank(b.Action)
}

func validAction(a Action) bool {
	return actionRank(a) >= 0
}

func actionRank(a Action) int {
	for i, known := range Actions() {
		if a == known {
			return i
		}
	}
	return -1
}
