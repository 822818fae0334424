package role

import (
	"sort"
	"strings"
)

// Role is a fixed, case-sensitive role tag
type Role string

const (
	Admin          Role = "admin"
	FinanceOfficer Role = "finance_officer"
	UrbanPlanner   Role = "urban_planner"
	HRManager      Role = "hr_manager"
	Clerk          Role = "clerk"
	Citizen        Role = "citizen"

	// System is held by automated callers such as the payment gateway callback
	System Role = "system"

	// Assignee is relational: it is never held by a principal and is satisfied
	// only when the actor is the record's assignee.
	Assignee Role = "assignee"
)

var holdableRoles = map[Role]bool{
	Admin:          true,
	FinanceOfficer: true,
	UrbanPlanner:   true,
	HRManager:      true,
	Clerk:          true,
	Citizen:        true,
	System:         true,
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid returns true if a principal can hold the role
func (r Role) IsValid() bool {
	return holdableRoles[r]
}

// IsRelational returns true for tags resolved against the record rather than the principal
func (r Role) IsRelational() bool {
	return r == Assignee
}

// Set is an unordered collection of roles
type Set map[Role]struct{}

// NewSet creates a set from the given roles
func NewSet(roles ...Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// ParseSet builds a set from raw role strings. Unknown strings are kept so
// that they fail membership checks instead of erroring.
func ParseSet(raw ...string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		s[Role(r)] = struct{}{}
	}
	return s
}

// Has reports whether r is a member of the set
func (s Set) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Len returns the number of roles in the set
func (s Set) Len() int {
	return len(s)
}

// Clone returns an independent copy of the set
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Slice returns the roles sorted by name
func (s Set) Slice() []Role {
	roles := make([]Role, 0, len(s))
	for r := range s {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Strings returns the sorted role names
func (s Set) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
