package conversation

import (
	"fmt"

	"github.com/MrWong99/tara/internal/keyword"
	"github.com/MrWong99/tara/internal/segment"
)

// State is the conversation state.
type State int

const (
	// StateDormant waits for a wake phrase.
	StateDormant State = iota

	// StateTriggered is the cycle in which the wake phrase was heard. The
	// controller folds it into StateActive before listening again.
	StateTriggered

	// StateActive exchanges every utterance with the dialogue service.
	StateActive

	// StateTerminated is terminal.
	StateTerminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDormant:
		return "dormant"
	case StateTriggered:
		return "triggered"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Action is what the controller does for one cycle.
type Action int

const (
	// ActionNone does nothing.
	ActionNone Action = iota

	// ActionRelisten starts another listening attempt.
	ActionRelisten

	// ActionActivate marks the session active without calling the service.
	ActionActivate

	// ActionDiscard ignores a segment heard while dormant.
	ActionDiscard

	// ActionSend sends the segment to the dialogue service and plays the reply.
	ActionSend

	// ActionFollowUp asks the dialogue service for a follow-up without audio.
	ActionFollowUp

	// ActionEnd ends the session.
	ActionEnd
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRelisten:
		return "relisten"
	case ActionActivate:
		return "activate"
	case ActionDiscard:
		return "discard"
	case ActionSend:
		return "send"
	case ActionFollowUp:
		return "follow_up"
	case ActionEnd:
		return "end"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Input is what one cycle observed.
type Input struct {
	// Outcome is how the listening attempt ended.
	Outcome segment.Outcome

	// Verdict classifies the segment. Only read for segment.OutcomeSegment.
	Verdict keyword.Verdict

	// FollowUpsExhausted reports that the silent follow-up budget is used
	// up. Only read for segment.OutcomeTimedOut while active.
	FollowUpsExhausted bool
}

// Transition returns the action for in and the next state. It is pure.
func Transition(s State, in Input) (Action, State) {
	switch s {
	case StateDormant:
		if in.Outcome != segment.OutcomeSegment {
			return ActionRelisten, StateDormant
		}
		if in.Verdict == keyword.VerdictTrigger {
			return ActionActivate, StateTriggered
		}
		return ActionDiscard, StateDormant

	case StateTriggered, StateActive:
		switch in.Outcome {
		case segment.OutcomeSegment:
			if in.Verdict == keyword.VerdictTerminate {
				return ActionEnd, StateTerminated
			}
			return ActionSend, StateActive
		case segment.OutcomeNoAudio:
			return ActionFollowUp, StateActive
		default:
			if in.FollowUpsExhausted {
				return ActionEnd, StateTerminated
			}
			return ActionFollowUp, StateActive
		}
	}
	return ActionNone, StateTerminated
}
