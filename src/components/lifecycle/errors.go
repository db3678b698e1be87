package lifecycle

import (
	"errors"
	"fmt"

	"github.com/stake-plus/nombot/src/types"
)

// ErrStateChanged reports a lost race: the nominee left its observed
// state between the precondition check and the conditional write.
var ErrStateChanged = errors.New("nominee state changed concurrently")

// InvalidTransitionError reports a target state the transition table
// does not allow from the current state.
type InvalidTransitionError struct {
	From types.NomineeState
	To   types.NomineeState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// InProgressConflictError names the nominee already holding the
// guild's single in-flight slot.
type InProgressConflictError struct {
	Blocking types.Nominee
}

func (e *InProgressConflictError) Error() string {
	return fmt.Sprintf("nomination %q is already in %s", e.Blocking.Name, e.Blocking.State)
}

// MissingPreconditionError reports a required field or state missing
// for the requested transition.
type MissingPreconditionError struct {
	NomineeID string
	Reason    string
}

func (e *MissingPreconditionError) Error() string {
	return fmt.Sprintf("nominee %s: %s", e.NomineeID, e.Reason)
}
