package workflow

import (
	"fmt"

	"github.com/garyjia/civic-workflow/internal/domain/role"
)

// TableBuilder builds the transition table for one entity kind
type TableBuilder interface {
	// Configure returns an edge configuration for the given source state
	Configure(from State) EdgeConfiguration

	// Build freezes the configured edges into an immutable table
	Build() *Table
}

// EdgeConfiguration configures outgoing edges for a specific state
type EdgeConfiguration interface {
	// Permit allows the listed roles to move the record to the target state
	Permit(to State, roles ...role.Role) EdgeConfiguration
}

// edgeConfig implements EdgeConfiguration
type edgeConfig struct {
	kind  EntityKind
	from  State
	edges map[State]role.Set
}

// tableBuilder implements TableBuilder
type tableBuilder struct {
	kind           EntityKind
	configurations map[State]*edgeConfig
}

// NewTableBuilder creates a builder for the kind's table
func NewTableBuilder(kind EntityKind) TableBuilder {
	if !kind.IsValid() {
		panic(fmt.Sprintf("invalid entity kind: %s", kind))
	}
	return &tableBuilder{
		kind:           kind,
		configurations: make(map[State]*edgeConfig),
	}
}

// Configure returns an edge configuration for the given source state
func (b *tableBuilder) Configure(from State) EdgeConfiguration {
	if !b.kind.HasState(from) {
		panic(fmt.Sprintf("invalid state %s for kind %s", from, b.kind))
	}

	config, exists := b.configurations[from]
	if !exists {
		config = &edgeConfig{
			kind:  b.kind,
			from:  from,
			edges: make(map[State]role.Set),
		}
		b.configurations[from] = config
	}

	return config
}

// Build freezes the configured edges into an immutable table
func (b *tableBuilder) Build() *Table {
	// Deep copy so later builder calls cannot mutate the table
	edges := make(map[State]map[State]role.Set, len(b.configurations))
	for from, config := range b.configurations {
		out := make(map[State]role.Set, len(config.edges))
		for to, roles := range config.edges {
			out[to] = roles.Clone()
		}
		edges[from] = out
	}

	return &Table{
		kind:  b.kind,
		edges: edges,
	}
}

// Permit allows the listed roles to move the record to the target state.
// Calling Permit twice for the same target merges the role sets.
func (c *edgeConfig) Permit(to State, roles ...role.Role) EdgeConfiguration {
	if !c.kind.HasState(to) {
		panic(fmt.Sprintf("invalid target state %s for kind %s", to, c.kind))
	}
	if len(roles) == 0 {
		panic(fmt.Sprintf("edge %s -> %s for kind %s has no roles", c.from, to, c.kind))
	}

	set, exists := c.edges[to]
	if !exists {
		set = role.NewSet()
		c.edges[to] = set
	}
	for _, r := range roles {
		set[r] = struct{}{}
	}

	return c
}
