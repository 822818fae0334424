package role

// Principal is an authenticated actor. It is immutable for the duration of a request.
type Principal struct {
	ID    string
	Roles Set
}

// NewPrincipal creates a principal holding the given roles
func NewPrincipal(id string, roles ...Role) Principal {
	return Principal{
		ID:    id,
		Roles: NewSet(roles...),
	}
}

// IsAuthenticated returns true when the principal carries an identity
func (p Principal) IsAuthenticated() bool {
	return p.ID != ""
}

// Subject carries the record-side facts that relational tags are checked against
type Subject struct {
	AssigneeID string
}

// Authority answers capability-membership queries. Implementations must be
// side-effect-free and fail closed.
type Authority interface {
	// HasRole returns true if the principal holds the role
	HasRole(p Principal, r Role) bool

	// HasAnyRole returns true if the principal holds at least one of the roles
	HasAnyRole(p Principal, roles Set) bool

	// Permits returns true if the principal satisfies the allowed set, including
	// relational tags evaluated against the subject
	Permits(p Principal, allowed Set, subject Subject) bool
}

type staticAuthority struct{}

// NewAuthority returns the role authority
func NewAuthority() Authority {
	return staticAuthority{}
}

func (staticAuthority) HasRole(p Principal, r Role) bool {
	if !p.IsAuthenticated() || !r.IsValid() {
		return false
	}
	return p.Roles.Has(r)
}

func (a staticAuthority) HasAnyRole(p Principal, roles Set) bool {
	for r := range roles {
		if a.HasRole(p, r) {
			return true
		}
	}
	return false
}

func (a staticAuthority) Permits(p Principal, allowed Set, subject Subject) bool {
	if a.HasAnyRole(p, allowed) {
		return true
	}
	if allowed.Has(Assignee) && p.IsAuthenticated() && subject.AssigneeID != "" {
		return p.ID == subject.AssigneeID
	}
	return false
}

var _ Authority = staticAuthority{}
