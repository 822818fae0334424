package workflow

import (
	"fmt"
	"strings"
)

// EntityKind identifies a record type with its own status enumeration
type EntityKind string

const (
	KindCitizenRequest EntityKind = "citizen_request"
	KindPermit         EntityKind = "permit"
	KindPayment        EntityKind = "payment"
	KindProject        EntityKind = "project"
	KindTask           EntityKind = "task"
	KindLeave          EntityKind = "leave"
	KindPayroll        EntityKind = "payroll"
)

type kindInfo struct {
	label  string
	states []State
}

var kinds = map[EntityKind]kindInfo{
	KindCitizenRequest: {
		label:  "Citizen request",
		states: []State{StatePending, StateInProgress, StateCompleted, StateRejected},
	},
	KindPermit: {
		label:  "Permit",
		states: []State{StatePending, StateApproved, StateRejected, StateExpired},
	},
	KindPayment: {
		label:  "Payment",
		states: []State{StatePending, StateCompleted, StateFailed, StateRefunded},
	},
	KindProject: {
		label:  "Project",
		states: []State{StatePlanned, StateInProgress, StateOnHold, StateCompleted, StateCancelled},
	},
	KindTask: {
		label:  "Task",
		states: []State{StateTodo, StateInProgress, StateInReview, StateCompleted, StateBlocked},
	},
	KindLeave: {
		label:  "Leave request",
		states: []State{StatePending, StateApproved, StateRejected},
	},
	KindPayroll: {
		label:  "Payroll",
		states: []State{StatePending, StateApproved, StatePaid, StateCancelled},
	},
}

// Kinds returns every entity kind in a stable order
func Kinds() []EntityKind {
	return []EntityKind{
		KindCitizenRequest,
		KindPermit,
		KindPayment,
		KindProject,
		KindTask,
		KindLeave,
		KindPayroll,
	}
}

// ParseKind converts a raw string into an EntityKind
func ParseKind(raw string) (EntityKind, error) {
	k := EntityKind(strings.TrimSpace(raw))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return k, nil
}

// String returns the string representation of the kind
func (k EntityKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is part of the closed enumeration
func (k EntityKind) IsValid() bool {
	_, ok := kinds[k]
	return ok
}

// Label returns a human-readable name used in rendered messages
func (k EntityKind) Label() string {
	if info, ok := kinds[k]; ok {
		return info.label
	}
	return string(k)
}

// States returns the kind's status enumeration
func (k EntityKind) States() []State {
	info, ok := kinds[k]
	if !ok {
		return nil
	}
	return append([]State(nil), info.states...)
}

// HasState returns true if s is part of the kind's enumeration
func (k EntityKind) HasState(s State) bool {
	for _, st := range kinds[k].states {
		if st == s {
			return true
		}
	}
	return false
}
