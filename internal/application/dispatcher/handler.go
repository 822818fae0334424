package dispatcher

import (
	"context"
	"slices"

	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// Handler processes transition events
type Handler func(ctx context.Context, evt *event.Event) error

// Filter selects the events a subscription receives. Empty fields match everything.
type Filter struct {
	Types []event.Type
	Kinds []workflow.EntityKind
}

// Matches reports whether evt passes the filter
func (f Filter) Matches(evt *event.Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, evt.Type) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, evt.Kind) {
		return false
	}
	return true
}

// Subscription describes a registered handler
type Subscription struct {
	Name   string
	Filter Filter
}

type subscriber struct {
	Subscription
	handler Handler
}
