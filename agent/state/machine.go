package state

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

// AgentState is the order-flow position of a session. Exactly one is active
// per session.
type AgentState string

const (
	StateIdle                 AgentState = "IDLE"
	StateCollectingOrder      AgentState = "COLLECTING_ORDER"
	StateNeedsDetails         AgentState = "NEEDS_DETAILS"
	StateAwaitingConfirmation AgentState = "AWAITING_CONFIRMATION"
	StateExecuting            AgentState = "EXECUTING"
	StateDone                 AgentState = "DONE"
	StateHandoff              AgentState = "HANDOFF"
)

// transitions lists the legal moves besides "stay" and "anything -> HANDOFF".
// Backward edges only exist for cancellations and for reopening terminal
// sessions.
var transitions = map[AgentState][]AgentState{
	StateIdle:                 {StateCollectingOrder},
	StateCollectingOrder:      {StateNeedsDetails, StateAwaitingConfirmation, StateIdle},
	StateNeedsDetails:         {StateCollectingOrder, StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateExecuting, StateCollectingOrder, StateNeedsDetails},
	StateExecuting:            {StateDone, StateCollectingOrder},
	StateDone:                 {StateIdle},
	StateHandoff:              {StateIdle},
}

func (s AgentState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s AgentState) IsTerminal() bool {
	return s == StateDone || s == StateHandoff
}

// InOrderFlow reports whether an order is in progress, i.e. the session is
// past IDLE and not yet terminal.
func (s AgentState) InOrderFlow() bool {
	switch s {
	case StateCollectingOrder, StateNeedsDetails, StateAwaitingConfirmation, StateExecuting:
		return true
	default:
		return false
	}
}

func CanTransition(from, to AgentState) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to || to == StateHandoff {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func Transition(from, to AgentState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", contractx.ErrIllegalStateTransition, from, to)
	}
	return nil
}

// ForwardPath returns the shortest chain of legal forward steps from -> to,
// excluding from itself. Backward edges are never used so a walk cannot skip
// AWAITING_CONFIRMATION on the way to EXECUTING.
func ForwardPath(from, to AgentState) ([]AgentState, bool) {
	if from == to {
		return nil, true
	}
	if !from.Valid() || !to.Valid() {
		return nil, false
	}

	prev := map[AgentState]AgentState{from: ""}
	queue := []AgentState{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if _, seen := prev[next]; seen || !isForward(cur, next) {
				continue
			}
			prev[next] = cur
			if next == to {
				path := []AgentState{next}
				for p := cur; p != from; p = prev[p] {
					path = append([]AgentState{p}, path...)
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

var flowOrder = map[AgentState]int{
	StateIdle:                 0,
	StateCollectingOrder:      1,
	StateNeedsDetails:         2,
	StateAwaitingConfirmation: 3,
	StateExecuting:            4,
	StateDone:                 5,
}

func isForward(from, to AgentState) bool {
	f, okFrom := flowOrder[from]
	t, okTo := flowOrder[to]
	return okFrom && okTo && t > f
}

// Outcome is the part of a tool execution the state machine cares about.
type Outcome struct {
	Tool     string
	Mutation bool
	Status   contractx.ExecStatus
	// Suggests is the state a successful run of the tool leads to, if any.
	Suggests AgentState
}

// SuggestNext proposes the state that follows the latest executions. The
// caller applies it only when CanTransition allows it.
func SuggestNext(current AgentState, outcomes []Outcome) (AgentState, bool) {
	suggested, found := AgentState(""), false
	for _, o := range outcomes {
		switch o.Status {
		case contractx.ExecPendingConfirmation:
			return StateAwaitingConfirmation, true
		case contractx.ExecSuccess, contractx.ExecReplayed:
			if o.Suggests != "" {
				suggested, found = o.Suggests, true
			}
		case contractx.ExecValidationFailed:
			if o.Mutation && current == StateCollectingOrder && !found {
				suggested, found = StateNeedsDetails, true
			}
		}
	}
	if !found || suggested == current {
		return "", false
	}
	return suggested, true
}
