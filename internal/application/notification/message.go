package notification

import (
	"fmt"

	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
)

var verbs = map[event.Type]string{
	event.TypeStatusChanged: "was updated",
	event.TypeApproved:      "was approved",
	event.TypeRejected:      "was rejected",
	event.TypeCompleted:     "was completed",
	event.TypeFailed:        "failed",
	event.TypeCancelled:     "was cancelled",
	event.TypeExpired:       "has expired",
	event.TypeRefunded:      "was refunded",
}

// RenderMessage builds the human-readable notice for a transition
func RenderMessage(evt *event.Event) string {
	verb, ok := verbs[evt.Type]
	if !ok {
		verb = verbs[event.TypeStatusChanged]
	}
	return fmt.Sprintf("%s #%s %s: status is now %s (was %s).",
		evt.Kind.Label(), evt.EntityID, verb, evt.NewState, evt.OldState)
}

// ResolveRecipients returns who is told about the transition. Task notices go
// to the assignee; every other kind notifies the record owner. The actor is
// never notified of their own action.
func ResolveRecipients(evt *event.Event) []string {
	var candidates []string
	switch evt.Kind {
	case workflow.KindTask:
		candidates = []string{evt.AssigneeID}
	default:
		candidates = []string{evt.OwnerID}
	}

	seen := make(map[string]bool, len(candidates))
	recipients := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || id == evt.ActorID || seen[id] {
			continue
		}
		seen[id] = true
		recipients = append(recipients, id)
	}
	return recipients
}
