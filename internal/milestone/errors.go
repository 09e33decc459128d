package milestone

import "errors"

// Kind is the error taxonomy surfaced to callers.
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindNotFound
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "internal"
	}
}

// Error is a classified engine error. Sentinels below are compared with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind returns the taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// Retryable is false for every engine error: redelivering the same request
// yields the same rejection.
func (e *Error) Retryable() bool { return false }

var (
	ErrTemplateNotFound = &Error{KindConfiguration, "no milestone templates for service type"}
	ErrInvalidTemplate  = &Error{KindConfiguration, "invalid milestone template"}

	ErrMilestoneNotFound = &Error{KindNotFound, "milestone not found"}
	ErrProcessNotFound   = &Error{KindNotFound, "process not found"}

	ErrAlreadyCompleted    = &Error{KindInvalidState, "milestone already completed"}
	ErrNotCompleted        = &Error{KindInvalidState, "milestone is not completed"}
	ErrNoMatchingTrigger   = &Error{KindInvalidState, "no inert milestone matches the event"}
	ErrChainedTrigger      = &Error{KindInvalidState, "previous_completed milestones are activated by completion only"}
	ErrUnknownTrigger      = &Error{KindInvalidState, "unknown trigger kind"}
	ErrAlreadyInstantiated = &Error{KindInvalidState, "process already has milestones"}
)

// KindOf maps any error to its taxonomy kind; unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}
