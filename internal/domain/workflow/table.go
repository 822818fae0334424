package workflow

import (
	"fmt"
	"sort"

	"github.com/garyjia/civic-workflow/internal/domain/role"
)

// Edge is a permitted (from, to) pair and the roles allowed to traverse it
type Edge struct {
	Kind         EntityKind
	From         State
	To           State
	AllowedRoles role.Set
}

// Table holds the fixed edges of one entity kind. It is read-only once built.
type Table struct {
	kind  EntityKind
	edges map[State]map[State]role.Set
}

// Kind returns the entity kind the table belongs to
func (t *Table) Kind() EntityKind {
	return t.kind
}

// AllowedRoles returns a copy of the roles allowed on (from, to).
// The boolean is false when no such edge exists.
func (t *Table) AllowedRoles(from, to State) (role.Set, bool) {
	targets, ok := t.edges[from]
	if !ok {
		return nil, false
	}
	roles, ok := targets[to]
	if !ok {
		return nil, false
	}
	return roles.Clone(), true
}

// Targets returns the states reachable from the given state, sorted
func (t *Table) Targets(from State) []State {
	targets := t.edges[from]
	out := make([]State, 0, len(targets))
	for to := range targets {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OutgoingEdges returns the edges leaving the given state, sorted by target
func (t *Table) OutgoingEdges(from State) []Edge {
	targets := t.Targets(from)
	edges := make([]Edge, 0, len(targets))
	for _, to := range targets {
		edges = append(edges, Edge{
			Kind:         t.kind,
			From:         from,
			To:           to,
			AllowedRoles: t.edges[from][to].Clone(),
		})
	}
	return edges
}

// Edges returns every edge of the table in a stable order
func (t *Table) Edges() []Edge {
	var edges []Edge
	for _, from := range t.kind.States() {
		edges = append(edges, t.OutgoingEdges(from)...)
	}
	return edges
}

// IsTerminal returns true if the state has no outgoing edges
func (t *Table) IsTerminal(s State) bool {
	return len(t.edges[s]) == 0
}

// Registry maps each entity kind to its transition table
type Registry struct {
	tables map[EntityKind]*Table
}

// NewRegistry builds a registry from per-kind tables. A kind may only be registered once.
func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{tables: make(map[EntityKind]*Table, len(tables))}
	for _, t := range tables {
		if t == nil {
			continue
		}
		if _, exists := r.tables[t.kind]; exists {
			return nil, fmt.Errorf("duplicate transition table for kind %s", t.kind)
		}
		r.tables[t.kind] = t
	}
	return r, nil
}

// AllowedRoles looks up the exact (kind, from, to) triple.
// The boolean is false when the transition is illegal for every actor.
func (r *Registry) AllowedRoles(kind EntityKind, from, to State) (role.Set, bool) {
	t, ok := r.tables[kind]
	if !ok {
		return nil, false
	}
	return t.AllowedRoles(from, to)
}

// Table returns the kind's table
func (r *Registry) Table(kind EntityKind) (*Table, bool) {
	t, ok := r.tables[kind]
	return t, ok
}

// Kinds returns the registered kinds
func (r *Registry) Kinds() []EntityKind {
	out := make([]EntityKind, 0, len(r.tables))
	for _, k := range Kinds() {
		if _, ok := r.tables[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
